package operations

import (
	"fmt"

	"github.com/AM-OperatingSystem/amfs/pkg/block"
	"github.com/AM-OperatingSystem/amfs/pkg/diskgroup"
	"github.com/AM-OperatingSystem/amfs/pkg/fsgroup"
	"github.com/AM-OperatingSystem/amfs/pkg/geometry"
	"github.com/AM-OperatingSystem/amfs/pkg/objectset"
	"github.com/AM-OperatingSystem/amfs/pkg/pointer"
	"github.com/AM-OperatingSystem/amfs/pkg/superblock"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
)

// FindingKind classifies a single structural defect an Fsck scan locates.
type FindingKind string

const (
	KindInvalidSuperblock    FindingKind = "invalid_superblock"
	KindMismatchedSuperblock FindingKind = "mismatched_superblock"
	KindInvalidGeometry      FindingKind = "invalid_geometry"
	KindInvalidRoot          FindingKind = "invalid_root"
)

// Finding is one structural defect located during a scan.
type Finding struct {
	Location string      `yaml:"location"`
	Kind     FindingKind `yaml:"kind"`
	Detail   string      `yaml:"detail,omitempty"`
}

// Report is the structured result of an Fsck scan.
type Report struct {
	BlocksScanned int       `yaml:"blocks_scanned"`
	Findings      []Finding `yaml:"findings"`
}

// YAML renders r in the --format yaml diagnostic form.
func (r *Report) YAML() ([]byte, error) {
	return yaml.Marshal(r)
}

// Fsck walks d's four superblock copies, every geometry and rootnode they
// name, and every root FS group those rootnodes address (including
// resolving its Directory object id against its object set), recording a
// Finding for each structural defect. A superblock copy is compared against
// the first valid copy read, standing in for the original's comparison
// against a separately mounted handle. When haltOnFirst is set, the scan
// returns as soon as the first Finding is recorded.
func Fsck(d block.Disk, haltOnFirst bool) (*Report, error) {
	report := &Report{}

	locs, err := block.HeaderLocs(d)
	if err != nil {
		return nil, errors.Wrap(err, "operations: computing header locations")
	}

	seen := make(map[uint64]bool)
	touch := func(loc uint64) {
		if !seen[loc] {
			seen[loc] = true
			report.BlocksScanned++
		}
	}

	fail := func(loc string, kind FindingKind, detail string) bool {
		report.Findings = append(report.Findings, Finding{Location: loc, Kind: kind, Detail: detail})
		logrus.Warnf("fsck: %s: %s (%s)", loc, kind, detail)
		return haltOnFirst
	}

	logrus.Info("fsck: verifying superblocks")
	geomSet := make(map[pointer.Local]struct{})
	rootSet := make(map[pointer.Global]struct{})
	var ref *superblock.Superblock

	for _, loc := range locs {
		touch(loc)
		where := fmt.Sprintf("superblock@%d", loc)
		sb, err := superblock.Read(d, loc)
		if err != nil {
			if fail(where, KindInvalidSuperblock, err.Error()) {
				return report, nil
			}
			continue
		}
		for _, g := range sb.Geometries {
			geomSet[g] = struct{}{}
		}
		for _, r := range sb.Rootnodes {
			rootSet[r] = struct{}{}
		}
		if ref == nil {
			ref = sb
			continue
		}
		mismatch := ""
		switch {
		case sb.DevID != ref.DevID:
			mismatch = "device id"
		case sb.Features != ref.Features:
			mismatch = "feature flags"
		case sb.LatestRoot != ref.LatestRoot:
			mismatch = "latest root index"
		case sb.Rootnodes != ref.Rootnodes:
			mismatch = "rootnodes ring"
		}
		if mismatch != "" {
			if fail(where, KindMismatchedSuperblock, mismatch) {
				return report, nil
			}
		}
	}
	if ref == nil {
		return report, errors.New("operations: no intact superblock copy")
	}

	logrus.Info("fsck: verifying geometries")
	var validGeo *geometry.Geometry
	for g := range geomSet {
		if g.IsNull() {
			continue
		}
		touch(g.Loc())
		where := fmt.Sprintf("geometry@%d", g.Loc())
		geo, err := geometry.Read(d, g)
		if err != nil {
			if fail(where, KindInvalidGeometry, err.Error()) {
				return report, nil
			}
			continue
		}
		validGeo = geo
	}
	if validGeo == nil {
		return report, errors.New("operations: no intact geometry")
	}

	dg, err := diskgroup.FromGeo(validGeo, []uint64{ref.DevID}, []block.Disk{d})
	if err != nil {
		return report, errors.Wrap(err, "operations: building disk group from geometry")
	}
	gs := diskgroup.Groups{dg}

	logrus.Info("fsck: verifying root groups")
	for r := range rootSet {
		if r.IsNull() {
			continue
		}
		where := fmt.Sprintf("root@%d", r.Loc())
		if r.Dev() != 0 || r.Geo() != 0 {
			if fail(where, KindInvalidRoot, "references an unbound disk or geometry slot") {
				return report, nil
			}
			continue
		}
		touch(r.Loc())
		group, err := fsgroup.Read(gs, r)
		if err != nil {
			if fail(where, KindInvalidRoot, err.Error()) {
				return report, nil
			}
			continue
		}
		os := &objectset.ObjectSet{Ptr: group.Objects}
		if obj, err := os.GetObject(gs, group.Directory); err != nil || obj == nil {
			detail := fmt.Sprintf("root directory object %d unreadable", group.Directory)
			if err != nil {
				detail = err.Error()
			}
			if fail(where, KindInvalidRoot, detail) {
				return report, nil
			}
		}
	}

	return report, nil
}
