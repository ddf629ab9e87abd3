package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/firestore/apiv1/firestorepb"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/pauljones0/profile-scraper/internal/models"
)

const (
	runsCollection  = "runs"
	postsCollection = "posts"
)

// ErrRunExists is returned when a run document with the same ID was already written.
var ErrRunExists = errors.New("run already exists")

// FirestoreSink mirrors each run into Firestore: one document per run under
// "runs", with the posts in a "posts" subcollection keyed by post ID.
type FirestoreSink struct {
	client  *firestore.Client
	maxRuns int
}

// storedPost keeps the first-seen order, which document IDs alone lose.
type storedPost struct {
	models.PostRecord
	Seq int `firestore:"seq"`
}

func NewFirestoreSink(ctx context.Context, projectID string, maxRuns int) (*FirestoreSink, error) {
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("firestore.NewClient: %w", err)
	}
	return &FirestoreSink{client: client, maxRuns: maxRuns}, nil
}

func (s *FirestoreSink) Close() error {
	return s.client.Close()
}

// Save writes the run document and its posts, then trims old runs.
func (s *FirestoreSink) Save(ctx context.Context, result *models.ScrapeResult) error {
	runRef := s.client.Collection(runsCollection).Doc(runID(result))

	_, err := runRef.Create(ctx, runDocument(result))
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return fmt.Errorf("%w: %s", ErrRunExists, runRef.ID)
		}
		return fmt.Errorf("failed to create run %s: %w", runRef.ID, err)
	}

	bw := s.client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(result.Posts))
	for i, post := range result.Posts {
		job, err := bw.Set(runRef.Collection(postsCollection).Doc(post.ID), storedPost{PostRecord: post, Seq: i})
		if err != nil {
			bw.End()
			return fmt.Errorf("failed to queue post %s: %w", post.ID, err)
		}
		jobs = append(jobs, job)
	}
	bw.End()

	var failed int
	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			failed++
			slog.Warn("Failed to write post", "run", runRef.ID, "error", err)
		}
	}
	if failed > 0 {
		return fmt.Errorf("failed to write %d of %d posts for run %s", failed, len(jobs), runRef.ID)
	}
	slog.Info("Saved run to Firestore", "run", runRef.ID, "posts", len(jobs))

	if s.maxRuns > 0 {
		if err := s.TrimOldRuns(ctx, s.maxRuns); err != nil {
			slog.Warn("Failed to trim old runs", "error", err)
		}
	}
	return nil
}

// runDocument is the run-level fields. Posts live in the subcollection.
func runDocument(result *models.ScrapeResult) map[string]interface{} {
	return map[string]interface{}{
		"accountName": result.AccountName,
		"handle":      result.Handle,
		"followers":   result.Followers,
		"postCount":   result.PostCount,
		"status":      string(result.Status),
		"startedAt":   result.StartedAt,
		"finishedAt":  result.FinishedAt,
		"postsStored": len(result.Posts),
	}
}

var unsafeIDChars = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// runID is the handle plus the start time, which is unique per operator.
func runID(result *models.ScrapeResult) string {
	handle := unsafeIDChars.ReplaceAllString(strings.TrimPrefix(result.Handle, "@"), "")
	if handle == "" {
		handle = "unknown"
	}
	return handle + "_" + result.StartedAt.UTC().Format("20060102T150405.000Z")
}

// TrimOldRuns deletes the oldest runs (by startedAt), with their posts, until
// at most maxRuns remain.
func (s *FirestoreSink) TrimOldRuns(ctx context.Context, maxRuns int) error {
	collectionRef := s.client.Collection(runsCollection)

	countSnapshot, err := collectionRef.NewAggregationQuery().WithCount("all").Get(ctx)
	if err != nil {
		return fmt.Errorf("failed to get run count for trimming: %w", err)
	}
	countValue, ok := countSnapshot["all"]
	if !ok {
		return fmt.Errorf("count aggregation result for trimming was invalid: 'all' key missing")
	}
	current, err := aggregateCount(countValue)
	if err != nil {
		return err
	}
	if current <= int64(maxRuns) {
		return nil
	}

	numToDelete := int(current) - maxRuns
	slog.Info("Trimming old runs", "current", current, "max", maxRuns, "deleting", numToDelete)

	iter := collectionRef.
		OrderBy("startedAt", firestore.Asc).
		Limit(numToDelete).
		Documents(ctx)
	defer iter.Stop()

	bw := s.client.BulkWriter(ctx)
	defer bw.End()

	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to iterate runs for trimming: %w", err)
		}
		if err := s.queuePostDeletes(ctx, bw, doc.Ref); err != nil {
			return err
		}
		if _, err := bw.Delete(doc.Ref); err != nil {
			slog.Warn("Error queueing run delete", "run", doc.Ref.ID, "error", err)
		}
	}
	bw.Flush()
	return nil
}

func (s *FirestoreSink) queuePostDeletes(ctx context.Context, bw *firestore.BulkWriter, run *firestore.DocumentRef) error {
	posts := run.Collection(postsCollection).Documents(ctx)
	defer posts.Stop()
	for {
		doc, err := posts.Next()
		if err == iterator.Done {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to iterate posts of run %s: %w", run.ID, err)
		}
		if _, err := bw.Delete(doc.Ref); err != nil {
			slog.Warn("Error queueing post delete", "run", run.ID, "post", doc.Ref.ID, "error", err)
		}
	}
}

// aggregateCount unwraps a count aggregation value. Depending on the client
// version it arrives as int64 or as a raw protobuf value.
func aggregateCount(v interface{}) (int64, error) {
	switch val := v.(type) {
	case int64:
		return val, nil
	case *firestorepb.Value:
		return val.GetIntegerValue(), nil
	default:
		return 0, fmt.Errorf("count aggregation result for trimming has unexpected type %T", v)
	}
}
