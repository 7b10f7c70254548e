// Package runner wires every other package into the four use cases a
// front end drives: run_backup, restore_backup, cleanup, and verify. It
// is the state machine described as Init -> LoadConfig -> DeriveKey ->
// Plan -> Execute -> Commit -> Finalize: each use case below walks that
// sequence, emitting an AuditLog event at the edges that matter and a
// HistoryStore entry once an entry is committed.
package runner

import (
	"context"
	"encoding/hex"
	"os"
	"path/filepath"
	"time"

	"github.com/larkspurhq/strongbox/internal/applog"
	"github.com/larkspurhq/strongbox/internal/audit"
	"github.com/larkspurhq/strongbox/internal/compression"
	"github.com/larkspurhq/strongbox/internal/config"
	"github.com/larkspurhq/strongbox/internal/errs"
	"github.com/larkspurhq/strongbox/internal/history"
	"github.com/larkspurhq/strongbox/internal/integrity"
	"github.com/larkspurhq/strongbox/internal/keyderiv"
	"github.com/larkspurhq/strongbox/internal/manifest"
	"github.com/larkspurhq/strongbox/internal/metrics"
	"github.com/larkspurhq/strongbox/internal/pipeline"
	"github.com/larkspurhq/strongbox/internal/planner"
	"github.com/larkspurhq/strongbox/internal/progress"
	"github.com/larkspurhq/strongbox/internal/restore"
	"github.com/larkspurhq/strongbox/internal/retention"
)

// Runner bundles the config and the two append-only logs a use case
// needs; callers construct one per process (or per test) and reuse it
// across use-case calls.
type Runner struct {
	Config  config.Config
	Audit   *audit.Log
	History *history.Store
}

// Open loads cfg.Destination's audit log and history store, creating
// the destination directory if this is the first run.
func Open(cfg config.Config) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Destination, 0o755); err != nil {
		return nil, errs.Wrap(err, "creating destination")
	}
	auditLog, err := audit.Open(audit.DefaultPath(cfg.Destination))
	if err != nil {
		return nil, err
	}
	historyStore := history.Open(historyPath(cfg.Destination))
	return &Runner{Config: cfg, Audit: auditLog, History: historyStore}, nil
}

func historyPath(destination string) string {
	return filepath.Join(destination, "history.toml")
}

// BackupRequest configures one run_backup invocation.
type BackupRequest struct {
	Password      []byte // nil/empty means no encryption
	KDFParams     keyderiv.Params
	Compression   compression.Algorithm
	CompressLevel int
	ForceFull     bool // skip incremental planning even if a viable base exists
	Sink          progress.Sink
}

// BackupReport is the JSON-able outcome of run_backup.
type BackupReport struct {
	Name         string   `json:"name"`
	Kind         string   `json:"kind"`
	Status       string   `json:"status"`
	FileCount    int      `json:"file_count"`
	BytesLogical int64    `json:"bytes_logical"`
	BytesStored  int64    `json:"bytes_stored"`
	Failures     []string `json:"failures,omitempty"`
	DurationMs   int64    `json:"duration_ms"`
}

// RunBackup executes the Init -> LoadConfig -> DeriveKey -> Plan ->
// Execute -> Commit -> Finalize sequence for one backup entry.
func (r *Runner) RunBackup(ctx context.Context, req BackupRequest) (BackupReport, error) {
	start := time.Now()
	_ = r.Audit.Append(audit.KindBackupStart, "", true, "")

	var key *keyderiv.MasterKey
	var salt []byte
	var kdfParams keyderiv.Params
	if len(req.Password) > 0 {
		var err error
		salt, err = keyderiv.NewSalt()
		if err != nil {
			return r.failBackup(err)
		}
		kdfParams = req.KDFParams
		if kdfParams == (keyderiv.Params{}) {
			kdfParams = keyderiv.DefaultParams()
		}
		key, err = keyderiv.Derive(req.Password, salt, kdfParams)
		if err != nil {
			return r.failBackup(err)
		}
		defer key.Close()
	}

	sources := r.sources()

	plan, predecessor, err := r.planBackup(req.ForceFull, sources)
	if err != nil {
		return r.failBackup(err)
	}

	nameTime := time.Now()
	entryName := manifest.NewEntryName(nameTime)
	for {
		if _, err := os.Stat(manifest.RootDir(r.Config.Destination, entryName)); os.IsNotExist(err) {
			break
		}
		nameTime = nameTime.Add(time.Second)
		entryName = manifest.NewEntryName(nameTime)
	}
	rootDir := manifest.RootDir(r.Config.Destination, entryName)
	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return r.failBackup(errs.Wrap(err, "creating entry directory"))
	}

	opts := pipeline.Options{
		Compression:   req.Compression,
		CompressLevel: req.CompressLevel,
		MasterKey:     key,
		Salt:          salt,
		Sink:          req.Sink,
	}
	result, err := pipeline.Run(ctx, rootDir, plan.Files, opts)
	if err != nil {
		return r.failBackup(err)
	}

	entry := manifest.NewEntry(entryName, plan.Kind, predecessor)
	entry.FileCount = len(result.Records)
	entry.BytesLogical = result.BytesLogical
	entry.BytesStored = result.BytesStored
	entry.Files = result.Records
	entry.DurationMs = time.Since(start).Milliseconds()
	if len(result.Failures) > 0 {
		entry.Status = manifest.StatusPartial
	} else {
		entry.Status = manifest.StatusSuccess
	}
	if req.Compression != compression.None {
		entry.Compression = manifest.CompressionSpec{Algorithm: req.Compression.String(), Level: req.CompressLevel}
	}
	if key != nil {
		entry.Encryption = manifest.EncryptionSpec{
			Enabled: true, Salt: hex.EncodeToString(salt),
			MemoryCostKiB: kdfParams.MemoryCostKiB, TimeCost: kdfParams.TimeCost, Parallelism: kdfParams.Parallelism,
		}
	}

	if err := manifest.Write(rootDir, entry); err != nil {
		return r.failBackup(err)
	}

	ledger := integrity.New()
	for _, rec := range result.IntegrityRecords {
		ledger.Add(rec.StoredPath, rec.SHA256Hex)
	}
	if err := ledger.Write(manifest.IntegrityPath(rootDir)); err != nil {
		return r.failBackup(err)
	}

	_ = r.History.Append(history.FromBackupEntry(entry, "", ""))

	metrics.FilesProcessed.WithLabelValues("success").Add(float64(len(result.Records)))
	metrics.FilesProcessed.WithLabelValues("failed").Add(float64(len(result.Failures)))
	metrics.BytesProcessed.WithLabelValues("logical").Add(float64(result.BytesLogical))
	metrics.BytesProcessed.WithLabelValues("stored").Add(float64(result.BytesStored))
	metrics.EntryDuration.WithLabelValues("backup").Observe(time.Since(start).Seconds())

	_ = r.Audit.Append(audit.KindBackupEnd, entryName, len(result.Failures) == 0, "")

	if r.Config.AutoCleanup {
		if _, err := retention.Cleanup(r.Config.Destination, r.Config.KeepDays, false); err != nil {
			applog.Logger().Warn().Err(err).Msg("auto cleanup failed after backup")
		}
	}

	return BackupReport{
		Name: entryName, Kind: string(entry.Kind), Status: string(entry.Status),
		FileCount: entry.FileCount, BytesLogical: entry.BytesLogical, BytesStored: entry.BytesStored,
		Failures: result.Failures, DurationMs: entry.DurationMs,
	}, nil
}

func (r *Runner) failBackup(err error) (BackupReport, error) {
	_ = r.Audit.Append(audit.KindBackupEnd, "", false, err.Error())
	if errs.IsSecurityViolation(err) {
		_ = r.Audit.Append(audit.KindSecurityViolation, "", false, err.Error())
	}
	return BackupReport{}, err
}

func (r *Runner) sources() []planner.TargetSource {
	sources := make([]planner.TargetSource, 0, len(r.Config.Targets))
	for _, t := range r.Config.Targets {
		if t.Missing {
			continue
		}
		sources = append(sources, planner.TargetSource{Root: t.Path, ExcludePatterns: t.ExcludePatterns})
	}
	return sources
}

// planBackup decides Full vs Incremental: Full when forced, when no
// viable base exists, or when the existing chain is broken.
func (r *Runner) planBackup(forceFull bool, sources []planner.TargetSource) (planner.Plan, string, error) {
	if forceFull {
		plan, err := planner.PlanFull(sources)
		return plan, "", err
	}

	latest, err := planner.LatestEntryName(r.Config.Destination)
	if err != nil {
		return planner.Plan{}, "", err
	}
	if latest == "" {
		plan, err := planner.PlanFull(sources)
		return plan, "", err
	}

	chain, err := planner.ResolveChain(r.Config.Destination, latest)
	if err != nil {
		applog.Logger().Warn().Err(err).Msg("predecessor chain broken, falling back to full backup")
		plan, planErr := planner.PlanFull(sources)
		return plan, "", planErr
	}

	plan, _, err := planner.PlanIncremental(sources, chain)
	if err != nil {
		return planner.Plan{}, "", err
	}
	return plan, latest, nil
}

// RestoreRequest configures one restore_backup invocation.
type RestoreRequest struct {
	EntryName   string
	Destination string // restore target directory
	Password    []byte
	Sink        progress.Sink
}

// RestoreReport is the JSON-able outcome of restore_backup.
type RestoreReport struct {
	EntryName string   `json:"entry_name"`
	Restored  []string `json:"restored"`
	Failures  []string `json:"failures,omitempty"`
	DurationMs int64   `json:"duration_ms"`
}

// RestoreBackup resolves entryName's predecessor chain and replays it
// into req.Destination.
func (r *Runner) RestoreBackup(ctx context.Context, req RestoreRequest) (RestoreReport, error) {
	start := time.Now()

	chain, err := planner.ResolveChain(r.Config.Destination, req.EntryName)
	if err != nil {
		_ = r.Audit.Append(audit.KindRestore, req.EntryName, false, err.Error())
		return RestoreReport{}, err
	}

	var key *keyderiv.MasterKey
	if len(req.Password) > 0 {
		base := chain[len(chain)-1] // oldest entry, the Full anchor, carries the salt
		if !base.Encryption.Enabled {
			return RestoreReport{}, errs.Wrap(errs.ErrConfigInvalid, "password supplied for an unencrypted entry")
		}
		salt, err := hex.DecodeString(base.Encryption.Salt)
		if err != nil {
			return RestoreReport{}, errs.Wrap(err, "decoding stored salt")
		}
		params := keyderiv.Params{MemoryCostKiB: base.Encryption.MemoryCostKiB, TimeCost: base.Encryption.TimeCost, Parallelism: base.Encryption.Parallelism}
		key, err = keyderiv.Derive(req.Password, salt, params)
		if err != nil {
			_ = r.Audit.Append(audit.KindRestore, req.EntryName, false, "invalid password")
			return RestoreReport{}, errs.Wrap(errs.ErrInvalidPassword, "deriving restore key")
		}
		defer key.Close()
	}

	fileMap := restore.EffectiveFileMap(r.Config.Destination, chain)
	result, err := restore.Run(ctx, req.Destination, fileMap, restore.Options{MasterKey: key, Sink: req.Sink})
	if err != nil {
		_ = r.Audit.Append(audit.KindRestore, req.EntryName, false, err.Error())
		return RestoreReport{}, err
	}

	metrics.EntryDuration.WithLabelValues("restore").Observe(time.Since(start).Seconds())
	_ = r.Audit.Append(audit.KindRestore, req.EntryName, len(result.Failures) == 0, "")

	return RestoreReport{
		EntryName: req.EntryName, Restored: result.Restored, Failures: result.Failures,
		DurationMs: time.Since(start).Milliseconds(),
	}, nil
}

// CleanupReport is the JSON-able outcome of cleanup.
type CleanupReport struct {
	Decisions []retention.Decision `json:"decisions"`
}

// Cleanup runs retention.Cleanup against the configured keep_days.
func (r *Runner) Cleanup(days int, dryRun bool) (CleanupReport, error) {
	if days <= 0 {
		days = r.Config.KeepDays
	}
	plan, err := retention.Cleanup(r.Config.Destination, days, dryRun)
	if err != nil {
		return CleanupReport{}, err
	}
	for _, d := range plan.Decisions {
		if d.Deleted {
			metrics.RetentionDeletions.WithLabelValues("deleted").Inc()
		} else {
			metrics.RetentionDeletions.WithLabelValues("retained").Inc()
		}
	}
	return CleanupReport{Decisions: plan.Decisions}, nil
}

// VerifyReport is the JSON-able outcome of verify.
type VerifyReport struct {
	EntryName string   `json:"entry_name"`
	OK        bool     `json:"ok"`
	Problems  []string `json:"problems,omitempty"`
}

// Verify checks entryName's full predecessor chain: every entry along
// the way must have a loadable manifest, a present .integrity sidecar,
// and every stored file's bytes must match its recorded SHA-256 — not
// just the target entry, mirroring a full-chain trust check before a
// restore is attempted.
func (r *Runner) Verify(entryName string) (VerifyReport, error) {
	chain, err := planner.ResolveChain(r.Config.Destination, entryName)
	if err != nil {
		_ = r.Audit.Append(audit.KindIntegrityFailure, entryName, false, err.Error())
		return VerifyReport{EntryName: entryName, OK: false, Problems: []string{err.Error()}}, nil
	}

	var problems []string
	for _, entry := range chain {
		rootDir := manifest.RootDir(r.Config.Destination, entry.Name)
		ledger, err := integrity.Read(manifest.IntegrityPath(rootDir))
		if err != nil {
			problems = append(problems, entry.Name+": "+err.Error())
			continue
		}
		for _, rec := range entry.Files {
			want, ok := ledger[rec.StoredPath]
			if !ok {
				problems = append(problems, entry.Name+": "+rec.StoredPath+" missing from integrity ledger")
				continue
			}
			f, err := os.Open(storedAbsPath(rootDir, rec.StoredPath))
			if err != nil {
				problems = append(problems, entry.Name+": "+rec.StoredPath+": "+err.Error())
				continue
			}
			verifyErr := integrity.Verify(f, want)
			f.Close()
			if verifyErr != nil {
				problems = append(problems, entry.Name+": "+rec.StoredPath+": "+verifyErr.Error())
			}
		}
	}

	ok := len(problems) == 0
	_ = r.Audit.Append(audit.KindIntegrityFailure, entryName, ok, "")
	return VerifyReport{EntryName: entryName, OK: ok, Problems: problems}, nil
}

func storedAbsPath(rootDir, storedPath string) string {
	return filepath.Join(rootDir, storedPath)
}
