package stats

import (
	"bytes"
	"context"
	"encoding/json"
	"iter"
	"log/slog"
	"net/http"
	"time"
)

// Sample is one reading from the transfer tool's stats endpoint.
type Sample struct {
	Speed      float64 // bytes per second
	Bytes      int64   // transferred so far
	TotalBytes int64   // 0 when not reported
}

// Poller queries the rc endpoint of a running rclone.
type Poller struct {
	client *http.Client
	log    *slog.Logger
	url    string
}

// NewPoller returns a Poller for the rc endpoint at addr (host:port).
func NewPoller(addr string, client *http.Client, log *slog.Logger) *Poller {
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Second}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Poller{
		client: client,
		log:    log.With("component", "stats"),
		url:    "http://" + addr + "/core/stats",
	}
}

// Sample performs one query. It returns nil when the endpoint is not
// reachable, the reply cannot be parsed or no transfer is running.
func (p *Poller) Sample(ctx context.Context) *Sample {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader([]byte("{}")))
	if err != nil {
		return nil
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil
	}

	var body struct {
		Transferring json.RawMessage `json:"transferring"`
		Speed        *float64        `json:"speed"`
		Bytes        *int64          `json:"bytes"`
		TotalBytes   int64           `json:"totalBytes"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		p.log.Debug("bad stats reply", "error", err)
		return nil
	}
	if body.Transferring == nil || body.Speed == nil || body.Bytes == nil {
		return nil
	}
	return &Sample{Speed: *body.Speed, Bytes: *body.Bytes, TotalBytes: body.TotalBytes}
}

// Samples yields one sample per interval until ctx is done or the consumer
// stops ranging. A nil value means no data for that tick, not the end of
// the sequence. Each range over the result starts a fresh ticker.
func (p *Poller) Samples(ctx context.Context, interval time.Duration) iter.Seq[*Sample] {
	return func(yield func(*Sample) bool) {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			if !yield(p.Sample(ctx)) {
				return
			}
		}
	}
}
