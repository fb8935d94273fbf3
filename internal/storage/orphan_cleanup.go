package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// OrphanCleanupConfig controls the sweep of images no product references
type OrphanCleanupConfig struct {
	Interval     time.Duration
	AgeThreshold time.Duration // images younger than this are never removed
	BatchSize    int
	Enabled      bool
}

// DefaultOrphanCleanupConfig runs daily and keeps anything newer than a day
func DefaultOrphanCleanupConfig() OrphanCleanupConfig {
	return OrphanCleanupConfig{
		Interval:     24 * time.Hour,
		AgeThreshold: 24 * time.Hour,
		BatchSize:    500,
		Enabled:      true,
	}
}

// ImageKeyChecker reports which keys are still referenced by a product
type ImageKeyChecker interface {
	ReferencedImageKeys(ctx context.Context, keys []string) (map[string]bool, error)
}

// CleanupResult holds the result of a cleanup run
type CleanupResult struct {
	StartTime      time.Time
	EndTime        time.Time
	FilesScanned   int
	OrphansFound   int
	OrphansDeleted int
	BytesFreed     int64
	Errors         []string
}

// OrphanCleanupJob removes images left behind by replaced uploads or deleted products
type OrphanCleanupJob struct {
	store      *ImageStore
	keyChecker ImageKeyChecker
	config     OrphanCleanupConfig
	logger     *slog.Logger
	now        func() time.Time

	mu         sync.Mutex
	running    bool
	stopChan   chan struct{}
	wg         sync.WaitGroup
	lastResult *CleanupResult
}

// NewOrphanCleanupJob creates a cleanup job
func NewOrphanCleanupJob(store *ImageStore, keyChecker ImageKeyChecker, config OrphanCleanupConfig, logger *slog.Logger) *OrphanCleanupJob {
	if logger == nil {
		logger = slog.Default()
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 500
	}
	if config.Interval <= 0 {
		config.Interval = 24 * time.Hour
	}
	return &OrphanCleanupJob{
		store:      store,
		keyChecker: keyChecker,
		config:     config,
		logger:     logger,
		now:        time.Now,
	}
}

// Start runs the job immediately and then on every interval
func (j *OrphanCleanupJob) Start() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.running {
		return errors.New("cleanup job is already running")
	}
	if !j.config.Enabled {
		j.logger.Info("Image cleanup job is disabled")
		return nil
	}

	j.running = true
	j.stopChan = make(chan struct{})
	j.wg.Add(1)
	go j.run()

	j.logger.Info("Image cleanup job started", "interval", j.config.Interval, "age_threshold", j.config.AgeThreshold)
	return nil
}

// Stop stops the job and waits for a running sweep to finish
func (j *OrphanCleanupJob) Stop() {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return
	}
	j.running = false
	close(j.stopChan)
	j.mu.Unlock()

	j.wg.Wait()
	j.logger.Info("Image cleanup job stopped")
}

// LastResult returns the result of the last run
func (j *OrphanCleanupJob) LastResult() *CleanupResult {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.lastResult
}

func (j *OrphanCleanupJob) run() {
	defer j.wg.Done()

	j.sweep()

	ticker := time.NewTicker(j.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			j.sweep()
		case <-j.stopChan:
			return
		}
	}
}

func (j *OrphanCleanupJob) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	result := j.RunNow(ctx)
	j.logger.Info("Image cleanup completed",
		"scanned", result.FilesScanned,
		"found", result.OrphansFound,
		"deleted", result.OrphansDeleted,
		"bytes_freed", result.BytesFreed,
		"errors", len(result.Errors),
		"duration", result.EndTime.Sub(result.StartTime),
	)
}

// RunNow performs one sweep
func (j *OrphanCleanupJob) RunNow(ctx context.Context) *CleanupResult {
	result := &CleanupResult{StartTime: j.now()}

	orphans, scanned, err := j.findOrphans(ctx)
	result.FilesScanned = scanned
	result.OrphansFound = len(orphans)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("error finding orphans: %v", err))
		j.logger.Warn("Error finding orphan images", "error", err)
	}

	if len(orphans) > 0 {
		deleted, freed, errs := j.deleteOrphans(ctx, orphans)
		result.OrphansDeleted = deleted
		result.BytesFreed = freed
		result.Errors = append(result.Errors, errs...)
	}

	result.EndTime = j.now()

	j.mu.Lock()
	j.lastResult = result
	j.mu.Unlock()

	return result
}

type orphanFile struct {
	Key  string
	Size int64
}

func (j *OrphanCleanupJob) findOrphans(ctx context.Context) ([]orphanFile, int, error) {
	var orphans []orphanFile
	var scanned int
	cutoff := j.now().Add(-j.config.AgeThreshold)

	paginator := s3.NewListObjectsV2Paginator(j.store.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(j.store.bucket),
		Prefix: aws.String(ImagePrefix),
	})

	var batch []orphanFile
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		found, err := j.checkBatch(ctx, batch)
		batch = batch[:0]
		if err != nil {
			return err
		}
		orphans = append(orphans, found...)
		return nil
	}

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return orphans, scanned, fmt.Errorf("failed to list objects: %w", err)
		}

		for _, obj := range page.Contents {
			scanned++
			if obj.Key == nil {
				continue
			}
			if obj.LastModified != nil && obj.LastModified.After(cutoff) {
				continue
			}
			batch = append(batch, orphanFile{Key: *obj.Key, Size: aws.ToInt64(obj.Size)})

			if len(batch) >= j.config.BatchSize {
				if err := flush(); err != nil {
					return orphans, scanned, err
				}
			}
		}
	}

	return orphans, scanned, flush()
}

// checkBatch fails the whole sweep on a database error rather than treating
// every key as unreferenced
func (j *OrphanCleanupJob) checkBatch(ctx context.Context, files []orphanFile) ([]orphanFile, error) {
	keys := make([]string, len(files))
	for i, f := range files {
		keys[i] = f.Key
	}

	referenced, err := j.keyChecker.ReferencedImageKeys(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("failed to check image references: %w", err)
	}

	var orphans []orphanFile
	for _, f := range files {
		if !referenced[f.Key] {
			orphans = append(orphans, f)
		}
	}
	return orphans, nil
}

func (j *OrphanCleanupJob) deleteOrphans(ctx context.Context, orphans []orphanFile) (int, int64, []string) {
	var deleted int
	var freed int64
	var errs []string

	for i := 0; i < len(orphans); i += j.config.BatchSize {
		end := min(i+j.config.BatchSize, len(orphans))
		batch := orphans[i:end]

		ids := make([]types.ObjectIdentifier, len(batch))
		for idx, f := range batch {
			ids[idx] = types.ObjectIdentifier{Key: aws.String(f.Key)}
		}

		output, err := j.store.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(j.store.bucket),
			Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(false)},
		})
		if err != nil {
			errs = append(errs, fmt.Sprintf("failed to delete batch at index %d: %v", i, err))
			continue
		}

		failed := make(map[string]bool, len(output.Errors))
		for _, e := range output.Errors {
			failed[aws.ToString(e.Key)] = true
			errs = append(errs, fmt.Sprintf("failed to delete %s: %s", aws.ToString(e.Key), aws.ToString(e.Message)))
		}
		for _, f := range batch {
			if !failed[f.Key] {
				deleted++
				freed += f.Size
			}
		}
	}

	return deleted, freed, errs
}
