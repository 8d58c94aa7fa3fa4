package feed

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/ulikunitz/xz/lzma"

	"github.com/rustyeddy/afts/internal/logger"
	"github.com/rustyeddy/afts/market"
)

// DefaultDukasBase is the public Dukascopy datafeed root.
const DefaultDukasBase = "https://datafeed.dukascopy.com/datafeed"

const bi5RecordSize = 20

// DukasConfig locates Dukascopy hour files. Files live under
// Dir/SYMBOL/YYYY/MM/DD/HHh_ticks.bi5. When BaseURL is set, missing hours
// are downloaded into Dir first.
type DukasConfig struct {
	Dir       string
	Symbol    string
	From      time.Time
	To        time.Time
	Timeframe time.Duration
	// Scale divides the integer prices in the file. Zero picks 1e3 for JPY
	// crosses and 1e5 otherwise.
	Scale   float64
	BaseURL string
	HTTP    *http.Client
}

// DukasFeed aggregates Dukascopy .bi5 tick hours into bars.
type DukasFeed struct {
	cfg    DukasConfig
	hour   time.Time
	agg    *Aggregator
	queue  []market.Bar
	done   bool
	log    logrus.FieldLogger
	client *http.Client
}

func NewDukas(cfg DukasConfig, log logrus.FieldLogger) (*DukasFeed, error) {
	if cfg.Dir == "" || cfg.Symbol == "" {
		return nil, errors.New("dukas: dir and symbol are required")
	}
	if cfg.From.IsZero() || !cfg.To.After(cfg.From) {
		return nil, fmt.Errorf("dukas: bad range %s to %s", cfg.From, cfg.To)
	}
	if cfg.Scale <= 0 {
		cfg.Scale = 1e5
		if strings.Contains(strings.ToUpper(cfg.Symbol), "JPY") {
			cfg.Scale = 1e3
		}
	}
	client := cfg.HTTP
	if client == nil {
		client = &http.Client{Timeout: 45 * time.Second}
	}
	return &DukasFeed{
		cfg:    cfg,
		hour:   cfg.From.UTC().Truncate(time.Hour),
		agg:    NewAggregator(cfg.Symbol, cfg.Timeframe),
		log:    logger.OrDiscard(log).WithField("component", "dukas"),
		client: client,
	}, nil
}

func (f *DukasFeed) Close() error { return nil }

func (f *DukasFeed) Next(ctx context.Context) (market.Bar, bool, error) {
	for len(f.queue) == 0 {
		if f.done {
			return market.Bar{}, false, nil
		}
		if err := ctx.Err(); err != nil {
			return market.Bar{}, false, err
		}
		if !f.hour.Before(f.cfg.To) {
			if b, ok := f.agg.Flush(); ok {
				f.queue = append(f.queue, b)
			}
			f.done = true
			continue
		}
		ticks, err := f.loadHour(ctx, f.hour)
		if err != nil {
			return market.Bar{}, false, err
		}
		for _, t := range ticks {
			if !inRange(t.Time, f.cfg.From, f.cfg.To) {
				continue
			}
			if b, ok := f.agg.Add(t); ok {
				f.queue = append(f.queue, b)
			}
		}
		f.hour = f.hour.Add(time.Hour)
	}
	b := f.queue[0]
	f.queue = f.queue[1:]
	return b, true, nil
}

// HourPath returns the local path of the hour file starting at t.
func (f *DukasFeed) HourPath(t time.Time) string {
	return filepath.Join(f.cfg.Dir, dukasSymbol(f.cfg.Symbol),
		fmt.Sprintf("%04d", t.Year()), fmt.Sprintf("%02d", t.Month()), fmt.Sprintf("%02d", t.Day()),
		fmt.Sprintf("%02dh_ticks.bi5", t.Hour()))
}

func (f *DukasFeed) loadHour(ctx context.Context, hour time.Time) ([]Tick, error) {
	path := f.HourPath(hour)
	if f.cfg.BaseURL != "" {
		if err := f.download(ctx, DukasTickURL(f.cfg.BaseURL, f.cfg.Symbol, hour), path); err != nil {
			return nil, err
		}
	}
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		f.log.WithField("hour", hour.Format(time.RFC3339)).Debug("no tick file")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	ticks, err := DecodeBI5(bytes.NewReader(raw), hour, f.cfg.Scale)
	if err != nil {
		return nil, fmt.Errorf("dukas %s: %w", path, err)
	}
	return ticks, nil
}

// DecodeBI5 decompresses one hour of LZMA packed ticks. Each record is five
// big-endian 32 bit fields: ms offset, ask, bid, ask volume, bid volume.
// An empty input means the hour had no ticks.
func DecodeBI5(r io.Reader, hour time.Time, scale float64) ([]Tick, error) {
	br := nonEmpty(r)
	if br == nil {
		return nil, nil
	}
	lr, err := lzma.NewReader(br)
	if err != nil {
		return nil, err
	}
	raw, err := io.ReadAll(lr)
	if err != nil {
		return nil, err
	}
	if len(raw)%bi5RecordSize != 0 {
		return nil, fmt.Errorf("truncated tick data: %d bytes", len(raw))
	}

	ticks := make([]Tick, 0, len(raw)/bi5RecordSize)
	for off := 0; off < len(raw); off += bi5RecordSize {
		rec := raw[off : off+bi5RecordSize]
		ms := binary.BigEndian.Uint32(rec[0:4])
		ticks = append(ticks, Tick{
			Time:   hour.Add(time.Duration(ms) * time.Millisecond),
			Ask:    float64(binary.BigEndian.Uint32(rec[4:8])) / scale,
			Bid:    float64(binary.BigEndian.Uint32(rec[8:12])) / scale,
			AskVol: float64(math.Float32frombits(binary.BigEndian.Uint32(rec[12:16]))),
			BidVol: float64(math.Float32frombits(binary.BigEndian.Uint32(rec[16:20]))),
		})
	}
	return ticks, nil
}

// nonEmpty returns nil for an empty reader.
func nonEmpty(r io.Reader) io.Reader {
	var first [1]byte
	n, _ := io.ReadFull(r, first[:])
	if n == 0 {
		return nil
	}
	return io.MultiReader(bytes.NewReader(first[:]), r)
}

// DukasTickURL builds the datafeed URL for one hour. The month in the path
// is zero based.
func DukasTickURL(base, symbol string, t time.Time) string {
	return fmt.Sprintf("%s/%s/%04d/%02d/%02d/%02dh_ticks.bi5",
		strings.TrimRight(base, "/"), dukasSymbol(symbol),
		t.Year(), int(t.Month())-1, t.Day(), t.Hour())
}

func dukasSymbol(s string) string {
	return strings.ToUpper(strings.ReplaceAll(s, "_", ""))
}

// download fetches url into dst unless dst already exists. A 404 is not an
// error: the hour simply has no data.
func (f *DukasFeed) download(ctx context.Context, url, dst string) error {
	if _, err := os.Stat(dst); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", "afts/1.0")
	resp, err := f.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		f.log.WithField("url", url).Debug("hour not published")
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("dukas %s: http status %d", url, resp.StatusCode)
	}

	tmp := dst + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	_, copyErr := io.Copy(out, resp.Body)
	closeErr := out.Close()
	if copyErr != nil {
		_ = os.Remove(tmp)
		return copyErr
	}
	if closeErr != nil {
		_ = os.Remove(tmp)
		return closeErr
	}
	return os.Rename(tmp, dst)
}
