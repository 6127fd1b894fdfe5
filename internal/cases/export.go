package cases

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/globaldothealth/linelist/internal/caseschema"
	"github.com/globaldothealth/linelist/internal/errs"
	"github.com/globaldothealth/linelist/pkg/metrics"
)

// Export formats.
const (
	FormatCSV  = "csv"
	FormatTSV  = "tsv"
	FormatJSON = "json"
)

// StreamFunc writes an export chunk by chunk. The stream is produced
// lazily from a store cursor: a write failure or context cancellation stops
// iteration and releases the cursor. Call Download again for a fresh
// stream; a partially consumed one cannot be restarted.
type StreamFunc func(ctx context.Context, w io.Writer) error

// Uploader stores a finished export and returns a URL it can be fetched
// from. Implemented by the bucket uploader in internal/exports.
type Uploader interface {
	Upload(ctx context.Context, key, contentType string, r io.Reader) (string, error)
}

func contentTypeFor(format string) string {
	switch format {
	case FormatCSV:
		return "text/csv"
	case FormatTSV:
		return "text/tab-separated-values"
	default:
		return "application/json"
	}
}

// Download validates the request and returns the export stream. For csv and
// tsv the first chunk is the header row and each case follows as one row;
// for json the output is a single JSON array assembled incrementally so it
// can still be sent chunk by chunk.
func (c *Controller) Download(format, filterQuery string, caseIDs []string) (StreamFunc, error) {
	if caseIDs != nil && filterQuery != "" {
		return nil, errs.Preconditionf("supply a filter query or a list of case ids, not both")
	}
	if caseIDs != nil && len(caseIDs) == 0 {
		return nil, errs.Preconditionf("list of case ids must not be empty")
	}
	f, err := c.parseOptionalFilter(filterQuery)
	if err != nil {
		return nil, err
	}
	sel := Selector{IDs: caseIDs, Filter: f}
	switch format {
	case FormatCSV:
		return c.delimitedStream(sel, ','), nil
	case FormatTSV:
		return c.delimitedStream(sel, '\t'), nil
	case FormatJSON:
		return c.jsonStream(sel), nil
	}
	return nil, errs.UnsupportedTypef("unsupported download format %q", format)
}

func (c *Controller) delimitedStream(sel Selector, sep rune) StreamFunc {
	return func(ctx context.Context, w io.Writer) error {
		if _, err := io.WriteString(w, caseschema.Header(c.reg, sep)); err != nil {
			return err
		}
		err := c.store.IterateCases(ctx, sel, func(record *caseschema.Case) error {
			_, err := io.WriteString(w, caseschema.DelimitedRow(c.reg, record, sep))
			return err
		})
		if err != nil {
			return err
		}
		metrics.Exports.WithLabelValues(metricFormat(sep)).Inc()
		return nil
	}
}

func (c *Controller) jsonStream(sel Selector) StreamFunc {
	return func(ctx context.Context, w io.Writer) error {
		if _, err := io.WriteString(w, "["); err != nil {
			return err
		}
		first := true
		err := c.store.IterateCases(ctx, sel, func(record *caseschema.Case) error {
			encoded, err := json.Marshal(record)
			if err != nil {
				return err
			}
			if !first {
				if _, err := io.WriteString(w, ","); err != nil {
					return err
				}
			}
			first = false
			_, err = w.Write(encoded)
			return err
		})
		if err != nil {
			return err
		}
		if _, err := io.WriteString(w, "]"); err != nil {
			return err
		}
		metrics.Exports.WithLabelValues(FormatJSON).Inc()
		return nil
	}
}

func metricFormat(sep rune) string {
	if sep == '\t' {
		return FormatTSV
	}
	return FormatCSV
}

// UseUploader wires the bucket uploader used by ExportToBucket.
func (c *Controller) UseUploader(u Uploader) { c.uploader = u }

// ExportToBucket streams a download into the export bucket and returns the
// object key and a fetchable URL.
func (c *Controller) ExportToBucket(ctx context.Context, format, filterQuery string) (string, string, error) {
	if c.uploader == nil {
		return "", "", errs.DependencyFailedf("no export bucket is configured")
	}
	stream, err := c.Download(format, filterQuery, nil)
	if err != nil {
		return "", "", err
	}
	key := time.Now().UTC().Format("2006-01-02") + "/" + uuid.NewString() + "." + format
	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(stream(ctx, pw))
	}()
	url, err := c.uploader.Upload(ctx, key, contentTypeFor(format), pr)
	if err != nil {
		pr.CloseWithError(err)
		return "", "", errs.Wrap(err, "uploading export")
	}
	return key, url, nil
}
