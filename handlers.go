package soniclens

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/vincentchyu/sonic-lens/pkg/router"
	"github.com/vincentchyu/sonic-lens/store"
)

// Dates and hours of the trend endpoint are reported in this zone.
var reportZone = time.FixedZone("UTC+8", 8*60*60)

// Beyond this many days top-albums reads all-time totals instead of play records.
const allTimeDays = 3650

// API holds the read handlers.
type API struct {
	exec store.Executor
	now  func() time.Time
	log  zerolog.Logger
}

// endpoint adapts a function returning a JSON-able value into a handler.
func (a *API) endpoint(fn func(r *http.Request) (any, error)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		v, err := fn(r)
		if err != nil {
			writeError(w, a.log, err)
			return
		}
		writeJSON(w, http.StatusOK, v)
	})
}

// intParam reads an integer query parameter. Missing or malformed values fall back to def.
func intParam(r *http.Request, name string, def int64) int64 {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

// nonNegative is intParam for values that must not be below zero.
func nonNegative(r *http.Request, name string, def int64) (int64, error) {
	n := intParam(r, name, def)
	if n < 0 {
		return 0, badRequest("Invalid parameter: " + name)
	}
	return n, nil
}

func paging(r *http.Request) (limit, offset int64, err error) {
	if limit, err = nonNegative(r, "limit", 10); err != nil {
		return 0, 0, err
	}
	if offset, err = nonNegative(r, "offset", 0); err != nil {
		return 0, 0, err
	}
	return limit, offset, nil
}

func (a *API) since(days int) string {
	return store.FormatTime(a.now().AddDate(0, 0, -days))
}

type dashboardStats struct {
	TotalPlays   int64 `json:"totalPlays"`
	TotalTracks  int64 `json:"totalTracks"`
	TotalArtists int64 `json:"totalArtists"`
	TotalAlbums  int64 `json:"totalAlbums"`
}

func (a *API) stats(r *http.Request) (any, error) {
	var stats dashboardStats
	g, ctx := errgroup.WithContext(r.Context())
	for query, dst := range map[string]*int64{
		"SELECT SUM(play_count) as count FROM tracks":        &stats.TotalPlays,
		"SELECT COUNT(*) as count FROM tracks":               &stats.TotalTracks,
		"SELECT COUNT(DISTINCT artist) as count FROM tracks": &stats.TotalArtists,
		"SELECT COUNT(DISTINCT album) as count FROM tracks":  &stats.TotalAlbums,
	} {
		query, dst := query, dst
		g.Go(func() error {
			row, ok, err := a.exec.Prepare(query).First(ctx)
			if err != nil {
				return err
			}
			if ok {
				*dst = store.Int(row["count"])
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return stats, nil
}

// normalizeSource folds the spellings players report into one display name.
func normalizeSource(source string) string {
	switch strings.ToLower(source) {
	case "":
		return "Unknown"
	case "apple music", "applemusic":
		return "Apple Music"
	case "audirvana":
		return "Audirvana"
	case "roon":
		return "Roon"
	default:
		return source
	}
}

func (a *API) playCountsBySource(r *http.Request) (any, error) {
	rows, err := a.exec.Prepare("SELECT source, count(source) as count FROM track_play_records GROUP BY source").All(r.Context())
	if err != nil {
		return nil, err
	}
	counts := map[string]int64{}
	for _, row := range rows {
		counts[normalizeSource(store.String(row["source"]))] += store.Int(row["count"])
	}
	return counts, nil
}

type trendDay struct {
	Total  int64            `json:"total"`
	Hourly map[string]int64 `json:"hourly"`
}

func newTrendDay() *trendDay {
	d := &trendDay{Hourly: make(map[string]int64, 24)}
	for h := 0; h < 24; h++ {
		d.Hourly[twoDigits(h)] = 0
	}
	return d
}

func twoDigits(n int) string {
	if n < 10 {
		return "0" + strconv.Itoa(n)
	}
	return strconv.Itoa(n)
}

// trendWindow returns the UTC bounds covering the last rangeDays calendar
// days in the report zone, today included.
func trendWindow(now time.Time, rangeDays int) (from, to time.Time) {
	local := now.In(reportZone)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, reportZone)
	return midnight.AddDate(0, 0, -(rangeDays - 1)), midnight.AddDate(0, 0, 1)
}

func (a *API) trend(r *http.Request) (any, error) {
	rangeDays := intParam(r, "range", 30)
	if rangeDays < 1 {
		return nil, badRequest("Invalid parameter: range")
	}
	from, to := trendWindow(a.now(), int(rangeDays))
	rows, err := a.exec.Prepare(`
		SELECT strftime('%Y-%m-%d', datetime(play_time, '+8 hours')) as date,
			strftime('%H', datetime(play_time, '+8 hours')) as hour,
			COUNT(*) as count
		FROM track_play_records
		WHERE play_time >= ? AND play_time < ?
		GROUP BY date, hour
		ORDER BY date, hour`).Bind(store.FormatTime(from), store.FormatTime(to)).All(r.Context())
	if err != nil {
		return nil, err
	}
	hourly := map[string]*trendDay{}
	for _, row := range rows {
		date := store.String(row["date"])
		day, ok := hourly[date]
		if !ok {
			day = newTrendDay()
			hourly[date] = day
		}
		count := store.Int(row["count"])
		day.Hourly[store.String(row["hour"])] = count
		day.Total += count
	}
	return map[string]any{"hourly": hourly}, nil
}

func (a *API) topArtists(r *http.Request) (any, error) {
	limit, err := nonNegative(r, "limit", 10)
	if err != nil {
		return nil, err
	}
	query := "SELECT artist, SUM(play_count) as play_count FROM tracks GROUP BY artist ORDER BY play_count DESC LIMIT ?"
	if router.Param(r, "type") == "tracks" {
		query = "SELECT artist, COUNT(*) as track_count FROM tracks GROUP BY artist ORDER BY track_count DESC LIMIT ?"
	}
	return a.exec.Prepare(query).Bind(limit).All(r.Context())
}

func (a *API) topAlbums(r *http.Request) (any, error) {
	limit, err := nonNegative(r, "limit", 10)
	if err != nil {
		return nil, err
	}
	days, err := nonNegative(r, "days", 30)
	if err != nil {
		return nil, err
	}
	if days > allTimeDays {
		return a.exec.Prepare("SELECT album, artist, SUM(play_count) as play_count FROM tracks GROUP BY album, artist ORDER BY play_count DESC LIMIT ?").
			Bind(limit).All(r.Context())
	}
	return a.exec.Prepare("SELECT album, album_artist as artist, COUNT(*) as play_count FROM track_play_records WHERE play_time >= ? GROUP BY album, album_artist ORDER BY play_count DESC LIMIT ?").
		Bind(a.since(int(days)), limit).All(r.Context())
}

func (a *API) topGenres(r *http.Request) (any, error) {
	limit, err := nonNegative(r, "limit", 10)
	if err != nil {
		return nil, err
	}
	return a.exec.Prepare(`
		SELECT tg.track_genre_name, tg.track_genre_count, g.name_zh as genre_name_zh, g.play_count as genre_count
		FROM (
			SELECT genre as track_genre_name, SUM(play_count) as track_genre_count
			FROM tracks WHERE genre != '' GROUP BY genre ORDER BY track_genre_count DESC LIMIT ?
		) as tg
		LEFT JOIN genres as g ON tg.track_genre_name = g.name
		ORDER BY tg.track_genre_count DESC`).Bind(limit).All(r.Context())
}

func (a *API) recentPlays(r *http.Request) (any, error) {
	limit, offset, err := paging(r)
	if err != nil {
		return nil, err
	}
	return a.exec.Prepare("SELECT artist, album, track, play_time, source FROM track_play_records ORDER BY play_time DESC LIMIT ? OFFSET ?").
		Bind(limit, offset).All(r.Context())
}

func (a *API) track(r *http.Request) (any, error) {
	q := r.URL.Query()
	artist, trackName := q.Get("artist"), q.Get("trackName")
	if artist == "" || trackName == "" {
		return nil, badRequest("Missing parameters")
	}
	row, ok, err := a.exec.Prepare("SELECT * FROM tracks WHERE artist = ? AND track = ? LIMIT 1").
		Bind(artist, trackName).First(r.Context())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, notFound("Track not found")
	}
	return row, nil
}

func (a *API) trackPlayCounts(r *http.Request) (any, error) {
	limit, offset, err := paging(r)
	if err != nil {
		return nil, err
	}
	return a.exec.Prepare("SELECT artist, album, track, play_count FROM tracks ORDER BY play_count DESC LIMIT ? OFFSET ?").
		Bind(limit, offset).All(r.Context())
}

// periodDays maps the period parameter to a window length; unknown values mean a week.
func periodDays(period string) int {
	switch period {
	case "year":
		return 365
	case "month":
		return 30
	default:
		return 7
	}
}

func (a *API) trackPlayCountsByPeriod(r *http.Request) (any, error) {
	limit, offset, err := paging(r)
	if err != nil {
		return nil, err
	}
	days := periodDays(r.URL.Query().Get("period"))
	return a.exec.Prepare("SELECT artist, album, track, COUNT(*) as play_count FROM track_play_records WHERE play_time >= ? GROUP BY artist, album, track ORDER BY play_count DESC LIMIT ? OFFSET ?").
		Bind(a.since(days), limit, offset).All(r.Context())
}

func (a *API) unscrobbledCount(r *http.Request) (any, error) {
	row, ok, err := a.exec.Prepare("SELECT COUNT(*) as count FROM track_play_records WHERE scrobbled = 0").First(r.Context())
	if err != nil {
		return nil, err
	}
	var count int64
	if ok {
		count = store.Int(row["count"])
	}
	return map[string]int64{"count": count}, nil
}

func (a *API) unscrobbledRecords(r *http.Request) (any, error) {
	limit, offset, err := paging(r)
	if err != nil {
		return nil, err
	}
	return a.exec.Prepare("SELECT * FROM track_play_records WHERE scrobbled = 0 ORDER BY play_time DESC LIMIT ? OFFSET ?").
		Bind(limit, offset).All(r.Context())
}

func notSupported(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Not supported"})
}

func preflight(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}
