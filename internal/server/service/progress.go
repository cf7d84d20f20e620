package service

import "io"

// Progress directions.
const (
	DirectionUpload   = "upload"
	DirectionDownload = "download"
)

// ProgressEvent reports bytes moved so far for one transfer.
type ProgressEvent struct {
	Direction string
	Done      int64
	Total     int64
}

// Percent is Done as a share of Total, or 0 when Total is unknown.
func (e ProgressEvent) Percent() float64 {
	if e.Total <= 0 {
		return 0
	}
	return float64(e.Done) / float64(e.Total) * 100
}

// ProgressObserver receives transfer progress. Observers are optional.
type ProgressObserver interface {
	OnProgress(ProgressEvent)
}

// ProgressFunc adapts a function to ProgressObserver.
type ProgressFunc func(ProgressEvent)

func (f ProgressFunc) OnProgress(e ProgressEvent) { f(e) }

// progressReader reports every read to an observer.
type progressReader struct {
	r         io.Reader
	obs       ProgressObserver
	direction string
	done      int64
	total     int64
}

func withProgress(r io.Reader, total int64, direction string, obs ProgressObserver) io.Reader {
	if obs == nil {
		return r
	}
	return &progressReader{r: r, obs: obs, direction: direction, total: total}
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.done += int64(n)
		p.obs.OnProgress(ProgressEvent{Direction: p.direction, Done: p.done, Total: p.total})
	}
	return n, err
}
