package search

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/GUI0609/rdkit/internal/domain/molecule"
	"github.com/GUI0609/rdkit/internal/infrastructure/monitoring/logging"
	"github.com/GUI0609/rdkit/pkg/errors"
)

// Query file formats.
const (
	FormatSDF    = "sdf"
	FormatSMILES = "smiles"
)

const probeProgressInterval = 1000

// Probe is one query molecule.  FP is nil when the molecule could not be
// read or fingerprinted; such probes get an empty neighbor list.
type Probe struct {
	Name string
	Mol  *molecule.Molecule
	FP   molecule.Fingerprint
}

// ReadProbes reads query molecules in format and fingerprints them with b.
func ReadProbes(r io.Reader, format, nameProp string, b molecule.FingerprintBuilder, log logging.Logger) ([]Probe, error) {
	if log == nil {
		log = logging.NewNopLogger()
	}
	var (
		probes []Probe
		err    error
	)
	switch format {
	case FormatSMILES:
		probes, err = readSmilesProbes(r, log)
	case FormatSDF:
		probes, err = readSDFProbes(r, nameProp, log)
	default:
		return nil, errors.New(errors.ErrCodeMoleculeInvalidFormat, "unsupported query format").WithDetail(format)
	}
	if err != nil {
		return nil, err
	}

	for i := range probes {
		p := &probes[i]
		if p.Mol != nil && b != nil {
			fp, ferr := b.Build(p.Mol)
			if ferr != nil {
				log.Error("query molecule could not be fingerprinted",
					logging.Int("index", i+1), logging.String("name", p.Name), logging.Err(ferr))
			} else {
				p.FP = fp
			}
		}
		if (i+1)%probeProgressInterval == 0 {
			log.Info("reading query molecules", logging.Int("done", i+1))
		}
	}
	return probes, nil
}

// readSmilesProbes reads "SMILES name" lines.  Lines without exactly one
// separating space are skipped, as are unparsable SMILES.
func readSmilesProbes(r io.Reader, log logging.Logger) ([]Probe, error) {
	var probes []Probe
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		parts := strings.Split(strings.TrimSpace(sc.Text()), " ")
		if len(parts) != 2 {
			continue
		}
		smi, name := parts[0], parts[1]
		m, err := molecule.ParseSMILES(smi)
		if err != nil {
			log.Warn("skipping unparsable query SMILES",
				logging.Int("line", line), logging.String("name", name), logging.String("smiles", smi), logging.Err(err))
			continue
		}
		m.Name = name
		probes = append(probes, Probe{Name: name, Mol: m})
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeQueryFileError, "failed to read query file")
	}
	return probes, nil
}

// readSDFProbes reads SD records.  Unparsable records are kept as probes
// without a molecule so the output still lists them.
func readSDFProbes(r io.Reader, nameProp string, log logging.Logger) ([]Probe, error) {
	var probes []Probe
	rd := molecule.NewSDReader(r)
	for rd.Next() {
		rec := rd.Record()
		name := "Mol_" + strconv.Itoa(rec.Index+1)
		if rec.Mol == nil {
			if v, ok := rec.Props[nameProp]; ok {
				name = v
			}
			log.Error("query molecule could not be built",
				logging.Int("index", rec.Index+1), logging.String("name", name), logging.Err(rec.Err))
			probes = append(probes, Probe{Name: name})
			continue
		}
		// The title line always exists, so "_Name" never falls back to Mol_<n>.
		if v, ok := rec.Mol.Prop(nameProp); ok || nameProp == "_Name" {
			name = v
			if name == "" {
				log.Warn("molecule found with empty name property", logging.Int("index", rec.Index+1))
			}
		}
		probes = append(probes, Probe{Name: name, Mol: rec.Mol})
	}
	if err := rd.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeQueryFileError, "failed to read query file")
	}
	return probes, nil
}

// probeFingerprints returns the index-aligned fingerprints of probes.
func probeFingerprints(probes []Probe) []molecule.Fingerprint {
	fps := make([]molecule.Fingerprint, len(probes))
	for i, p := range probes {
		fps[i] = p.FP
	}
	return fps
}
