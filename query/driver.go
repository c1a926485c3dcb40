// Package query implements the per-query driver: setup/teardown of the
// page and node caches according to the configured optimization level,
// the VBF merge between queries, and the per-query
// Idle→Running→(Completed|Tampered|TransportFailed) state machine.
package query

import (
	"context"
	"errors"
	"fmt"

	"github.com/datatrails/go-datatrails-common/logger"
	"github.com/google/uuid"

	"github.com/v2fs/v2fs/nodecache"
	"github.com/v2fs/v2fs/page"
	"github.com/v2fs/v2fs/pagecache"
	"github.com/v2fs/v2fs/store"
	"github.com/v2fs/v2fs/vbf"
	"github.com/v2fs/v2fs/vfs"
)

// State is a query's position in its state machine.
type State int

const (
	Idle State = iota
	Running
	Completed
	Tampered
	TransportFailed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Tampered:
		return "tampered"
	case TransportFailed:
		return "transport_failed"
	default:
		return "unknown"
	}
}

// ReadOp is one byte-range read the SQL engine issues against the
// virtual file during a query.
type ReadOp struct {
	Offset uint64
	Length uint64
}

// Result is the structured per-query record the client emits on exit.
type Result struct {
	SQLID        string
	Verified     bool
	State        State
	PagesFetched int
	ProofBytes   int
	ElapsedUS    uint64
}

// ClientContext is the trusted root plus every cache and the VBF, held
// by the Driver rather than as an ambient package-level singleton. At
// levels ≥ 2 its caches and filter are shared by every query the Driver
// runs.
type ClientContext struct {
	Root   vfs.TrustedRoot
	Pages  *pagecache.Cache
	Nodes  *nodecache.Cache
	Filter *vbf.Filter
}

// Driver is the per-query setup/teardown. It owns the cross-query
// caches for opt levels ≥ 2 and allocates fresh, query-scoped ones for
// levels ≤ 1.
type Driver struct {
	cfg       Config
	remote    store.RemoteStore
	byteCount uint64
	shared    ClientContext
	aborted   bool
}

// NewDriver bootstraps a Driver against remote: it fetches the current
// trusted root and, for opt levels ≥ 2, allocates the caches and VBF
// that persist across queries.
func NewDriver(ctx context.Context, remote store.RemoteStore, byteCount uint64, cfg Config) (*Driver, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	version, root, err := remote.GetRoot(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", store.ErrTransport, err)
	}

	d := &Driver{
		cfg:       cfg,
		remote:    remote,
		byteCount: byteCount,
		shared:    ClientContext{Root: vfs.TrustedRoot{Version: version, Root: root}},
	}

	if cfg.OptLevel >= Level2 {
		pages, nodes, err := newCaches(cfg)
		if err != nil {
			return nil, err
		}
		d.shared.Pages = pages
		d.shared.Nodes = nodes
	}
	if cfg.OptLevel == Level3 {
		filter, err := vbf.NewFilterWithBits(cfg.VBFBits, cfg.VBFK)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
		}
		d.shared.Filter = filter
	}

	return d, nil
}

func newCaches(cfg Config) (*pagecache.Cache, *nodecache.Cache, error) {
	budget := uint64(cfg.CacheSizeMB) * 1024 * 1024
	pages, err := pagecache.New(budget)
	if err != nil {
		return nil, nil, err
	}
	nodes, err := nodecache.New(budget / 16)
	if err != nil {
		return nil, nil, err
	}
	return pages, nodes, nil
}

// AdvanceRoot fetches and merges the VBF delta since the driver's
// current version, then installs the new root, keeping (root_v, vbf_v)
// advancing atomically: a root for v+1 must never be held together
// with a VBF that has only absorbed deltas up to an earlier version.
func (d *Driver) AdvanceRoot(ctx context.Context) error {
	oldVersion := d.shared.Root.Version
	version, root, err := d.remote.GetRoot(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", store.ErrTransport, err)
	}
	if version == oldVersion {
		return nil
	}

	if d.shared.Filter != nil {
		delta, err := d.remote.GetVBFDelta(ctx, oldVersion, version)
		if err != nil {
			return fmt.Errorf("%w: %w", store.ErrTransport, err)
		}
		d.shared.Filter.MergeDelta(delta)
	}
	d.shared.Root = vfs.TrustedRoot{Version: version, Root: root}
	// The page cache is not purged here: its entries carry their own
	// version tags and are resolved lazily against the VBF on the next
	// read of each page (vfs.File.Read), so a page unchanged across
	// this advance survives without a refetch. The node cache has no
	// per-page VBF signal to consult, so it is purged outright.
	if d.shared.Nodes != nil {
		d.shared.Nodes.SetVersion(version)
	}
	return nil
}

// RunQuery executes one query's reads against a File scoped per the
// driver's optimization level, and returns the structured exit record.
func (d *Driver) RunQuery(ctx context.Context, sqlID string, reads []ReadOp, elapsedUS uint64) (Result, error) {
	if d.aborted {
		return Result{}, ErrDriverAborted
	}
	if sqlID == "" {
		sqlID = uuid.New().String()
	}

	pages, nodes, cleanup, err := d.scopedCaches()
	if err != nil {
		return Result{}, err
	}
	defer cleanup()

	// A read whose page span cannot fit in the cache at once would have
	// its working set evicted out from under the in-flight query. Level
	// 0 retains nothing, so the bound does not apply there.
	if d.cfg.OptLevel >= Level1 {
		total := page.Count(d.byteCount)
		for _, op := range reads {
			if len(page.Span(op.Offset, op.Length, total)) > pages.Cap() {
				return Result{SQLID: sqlID, State: Idle}, ErrResource
			}
		}
	}

	opts := []vfs.Option{vfs.WithMaxRetries(d.cfg.MaxRetries)}
	if d.shared.Filter != nil {
		opts = append(opts, vfs.WithVBF(d.shared.Filter))
	}
	file := vfs.New(d.remote, d.byteCount, d.shared.Root, pages, nodes, opts...)

	result := Result{SQLID: sqlID, State: Running, ElapsedUS: elapsedUS}
	for _, op := range reads {
		// Abort between page reads drops the query back to Idle with
		// no cache mutation beyond what already verified.
		if err := ctx.Err(); err != nil {
			result.State = Idle
			return result, err
		}
		if _, err := file.Read(ctx, op.Offset, op.Length); err != nil {
			return d.finish(result, err)
		}
	}

	fetched, proofBytes := file.Stats()
	result.PagesFetched = fetched
	result.ProofBytes = proofBytes
	result.Verified = true
	result.State = Completed
	return result, nil
}

func (d *Driver) finish(result Result, err error) (Result, error) {
	switch {
	case isTamper(err):
		result.State = Tampered
		result.Verified = false
		logger.Sugar.Debugf("query: %s tampered: %v", result.SQLID, err)
		if d.cfg.Strict {
			d.aborted = true
			return result, ErrStrictModeAborted
		}
		return result, err
	case isTransport(err):
		result.State = TransportFailed
		result.Verified = false
		return result, err
	default:
		result.State = Tampered
		result.Verified = false
		return result, err
	}
}

func isTamper(err error) bool {
	return errors.Is(err, store.ErrTamper) || errors.Is(err, store.ErrProtocol)
}

func isTransport(err error) bool {
	return errors.Is(err, store.ErrTransport)
}

// scopedCaches returns the page/node caches to use for one query:
// levels ≤ 1 get fresh, query-scoped caches torn down at query end;
// levels ≥ 2 reuse the driver's persistent caches.
func (d *Driver) scopedCaches() (*pagecache.Cache, *nodecache.Cache, func(), error) {
	if d.cfg.OptLevel >= Level2 {
		return d.shared.Pages, d.shared.Nodes, func() {}, nil
	}

	budget := uint64(d.cfg.CacheSizeMB) * 1024 * 1024
	if d.cfg.OptLevel == Level0 {
		// Level 0 keeps as little as a fixed-capacity LRU allows: the
		// per-query page cache holds a single page (and the node cache,
		// at budget/16 = 256 bytes, six records), so a second read of
		// the same page within a query misses only if a different page
		// was read in between and evicted it. A query that reads the
		// same page twice in a row without interleaving still hits;
		// RunQuery never reuses this cache across queries.
		budget = page.Size
	}
	pages, err := pagecache.New(budget)
	if err != nil {
		return nil, nil, nil, err
	}
	nodes, err := nodecache.New(budget / 16)
	if err != nil {
		return nil, nil, nil, err
	}
	return pages, nodes, func() {}, nil
}
