// pkg/report/generator.go

package report

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hostops/csf-unblocker/pkg/utils"
)

// Artifacts are the files written for one check
type Artifacts struct {
	Report  string
	Data    string
	Archive string
}

// Generator persists records as an AsciiDoc report, a JSON sidecar and an audit row
type Generator struct {
	Dir      string
	Compress bool
	Password string
	// Store is optional
	Store  *Store
	Logger zerolog.Logger
}

// NewGenerator creates a generator writing under dir
func NewGenerator(dir string, store *Store) *Generator {
	return &Generator{
		Dir:    dir,
		Store:  store,
		Logger: log.Logger,
	}
}

// ReportPath is where the report of rec is written. The record id prefix keeps two
// checks of the same host and IP within one second apart.
func (g *Generator) ReportPath(rec *Record) string {
	id := rec.ID
	if len(id) > 8 {
		id = id[:8]
	}
	name := fmt.Sprintf("%s-%s-%s-%s.adoc",
		rec.CheckedAt.Format("2006-01-02-150405"),
		utils.SanitizeFilename(rec.HostID),
		utils.SanitizeFilename(rec.IP),
		utils.SanitizeFilename(id))
	return filepath.Join(g.Dir, name)
}

// Generate writes every artifact of rec. The audit row is written first so a
// filesystem failure never loses the record of an unblock.
func (g *Generator) Generate(ctx context.Context, rec *Record) (Artifacts, error) {
	var out Artifacts
	logger := g.Logger.With().Str("component", "report").Str("host", rec.HostID).Str("ip", rec.IP).Logger()

	if g.Store != nil {
		if err := g.Store.Save(ctx, rec); err != nil {
			return out, err
		}
	}

	path := g.ReportPath(rec)
	report := BuildReport(rec, path)
	written, err := report.Generate()
	if err != nil {
		return out, errors.Wrap(err, "failed to write report")
	}
	out.Report = written

	data, err := SaveRecord(path, rec)
	if err != nil {
		return out, err
	}
	out.Data = data

	if g.Compress {
		archive, err := utils.CompressWithPassword(written, g.Password)
		if err != nil {
			logger.Warn().Err(err).Msg("report compression failed, keeping plain report")
		} else {
			out.Archive = archive
		}
	}

	logger.Debug().Str("report", out.Report).Str("data", out.Data).Msg("report written")
	return out, nil
}
