package search

import (
	"bufio"
	"context"
	"io"
	"strconv"
	"strings"

	"github.com/GUI0609/rdkit/internal/domain/molecule"
	"github.com/GUI0609/rdkit/internal/infrastructure/database/postgres/repositories"
	"github.com/GUI0609/rdkit/internal/infrastructure/monitoring/logging"
	"github.com/GUI0609/rdkit/pkg/errors"
)

// NeighborList is the ranked neighbor list of one probe, best first.
type NeighborList struct {
	Index     int                   `json:"index"`
	Probe     string                `json:"probe"`
	Neighbors []molecule.ScoredItem `json:"neighbors"`
}

func formatScore(s float64) string {
	return strconv.FormatFloat(s, 'f', 3, 64)
}

// WriteNeighborLists writes one line per probe:
//
//	name<d>nbr1<d>score1<d>nbr2<d>score2...
//
// In transposed form a header names each probe's two columns and every
// following row holds one rank, with blank cells for exhausted lists.
func WriteNeighborLists(w io.Writer, lists []NeighborList, delim string, transpose bool) error {
	bw := bufio.NewWriter(w)
	if !transpose {
		for _, l := range lists {
			fields := make([]string, 0, 1+2*len(l.Neighbors))
			fields = append(fields, l.Probe)
			for _, n := range l.Neighbors {
				fields = append(fields, n.ID, formatScore(n.Score))
			}
			bw.WriteString(strings.Join(fields, delim))
			bw.WriteByte('\n')
		}
		return wrapOutputErr(bw.Flush())
	}

	labels := make([]string, len(lists))
	depth := 0
	for i, l := range lists {
		labels[i] = l.Probe + delim + "Similarity"
		if len(l.Neighbors) > depth {
			depth = len(l.Neighbors)
		}
	}
	bw.WriteString(strings.Join(labels, delim))
	bw.WriteByte('\n')
	row := make([]string, 2*len(lists))
	for rank := 0; rank < depth; rank++ {
		for i, l := range lists {
			if rank < len(l.Neighbors) {
				row[2*i], row[2*i+1] = l.Neighbors[rank].ID, formatScore(l.Neighbors[rank].Score)
			} else {
				row[2*i], row[2*i+1] = "", ""
			}
		}
		bw.WriteString(strings.Join(row, delim))
		bw.WriteByte('\n')
	}
	return wrapOutputErr(bw.Flush())
}

// WriteIDs writes one id per line.
func WriteIDs(w io.Writer, ids []string) error {
	bw := bufio.NewWriter(w)
	for _, id := range ids {
		bw.WriteString(id)
		bw.WriteByte('\n')
	}
	return wrapOutputErr(bw.Flush())
}

func wrapOutputErr(err error) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(err, errors.ErrCodeOutputError, "failed to write output")
}

// neighborIDs returns the distinct neighbor ids of lists in first-seen order.
func neighborIDs(lists []NeighborList) []string {
	seen := make(map[string]struct{})
	ids := make([]string, 0)
	for _, l := range lists {
		for _, n := range l.Neighbors {
			if _, ok := seen[n.ID]; ok {
				continue
			}
			seen[n.ID] = struct{}{}
			ids = append(ids, n.ID)
		}
	}
	return ids
}

// ---------------------------------------------------------------------------
// Molecule export
// ---------------------------------------------------------------------------

// Export formats, used as metric labels.
const (
	ExportSDF    = "sdf"
	ExportSMILES = "smiles"
)

// exportMolecules writes the molecules in ids to the SD and SMILES sinks,
// either of which may be nil.  Rows whose molecule cannot be decoded are
// skipped.
func (s *serviceImpl) exportMolecules(ctx context.Context, ids []string, sdf, smi io.Writer) (int, error) {
	if len(ids) == 0 || (sdf == nil && smi == nil) {
		return 0, nil
	}
	t := s.molTable()
	cols, err := s.molecules.ExportColumns(ctx, t)
	if err != nil {
		return 0, err
	}

	var sdfBuf, smiBuf *bufio.Writer
	if sdf != nil {
		sdfBuf = bufio.NewWriter(sdf)
	}
	switch {
	case smi != nil && smi == sdf:
		smiBuf = sdfBuf
	case smi != nil:
		smiBuf = bufio.NewWriter(smi)
	}

	exported := 0
	err = s.molecules.ExportMolecules(ctx, t, cols, ids, func(rec repositories.ExportRecord) error {
		m, derr := DecodeMolPkl(rec.MolPkl, s.opts.ZipMols)
		if derr != nil {
			s.logger.Warn("skipping undecodable molecule in export", logging.String("id", rec.ID), logging.Err(derr))
			return nil
		}
		if sdfBuf != nil {
			m.Name = rec.ID
			values := make(map[string]string, len(rec.Fields))
			for i, f := range rec.Fields {
				values[f] = rec.Values[i]
			}
			if err := molecule.WriteSDRecord(sdfBuf, molecule.WriteMolBlock(m), rec.Fields, values); err != nil {
				return wrapOutputErr(err)
			}
			s.metrics.MoleculesExported.WithLabelValues(ExportSDF).Inc()
		}
		if smiBuf != nil {
			smiBuf.WriteString(molecule.WriteSMILES(m, !s.opts.NonChiralSmiles))
			smiBuf.WriteByte(' ')
			smiBuf.WriteString(rec.ID)
			smiBuf.WriteByte('\n')
			s.metrics.MoleculesExported.WithLabelValues(ExportSMILES).Inc()
		}
		exported++
		return nil
	})
	if err != nil {
		return exported, err
	}
	if sdfBuf != nil {
		if err := sdfBuf.Flush(); err != nil {
			return exported, wrapOutputErr(err)
		}
	}
	if smiBuf != nil && smiBuf != sdfBuf {
		if err := smiBuf.Flush(); err != nil {
			return exported, wrapOutputErr(err)
		}
	}
	return exported, nil
}
