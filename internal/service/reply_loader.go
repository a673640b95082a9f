package service

import (
	"context"
	"time"

	"campus/internal/models"
	"campus/internal/repository"

	"github.com/graph-gophers/dataloader"
)

// replyLoader batches reply lookups for a set of parent comments into a single query.
type replyLoader struct {
	repo repository.CommentRepository
}

func newReplyLoader(repo repository.CommentRepository) *replyLoader {
	return &replyLoader{repo: repo}
}

func (l *replyLoader) batch(ctx context.Context, keys dataloader.Keys) []*dataloader.Result {
	parentIDs := keys.Keys()
	results := make([]*dataloader.Result, len(keys))

	replies, err := l.repo.ListRepliesByParentIDs(ctx, parentIDs)
	if err != nil {
		for i := range results {
			results[i] = &dataloader.Result{Error: err}
		}
		return results
	}

	byParent := make(map[string][]*models.Comment, len(parentIDs))
	for _, r := range replies {
		if r.ParentID != nil {
			byParent[*r.ParentID] = append(byParent[*r.ParentID], r)
		}
	}
	for i, id := range parentIDs {
		results[i] = &dataloader.Result{Data: byParent[id]}
	}
	return results
}

// Load returns the replies of each parent, in the order of parentIDs.
func (l *replyLoader) Load(ctx context.Context, parentIDs []string) ([][]*models.Comment, error) {
	out := make([][]*models.Comment, len(parentIDs))
	if len(parentIDs) == 0 {
		return out, nil
	}

	// Capacity equals the key count so the batch dispatches as soon as every key is queued.
	loader := dataloader.NewBatchedLoader(l.batch,
		dataloader.WithBatchCapacity(len(parentIDs)),
		dataloader.WithWait(5*time.Millisecond),
	)

	data, errs := loader.LoadMany(ctx, dataloader.NewKeysFromStrings(parentIDs))()
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	for i, d := range data {
		if replies, ok := d.([]*models.Comment); ok {
			out[i] = replies
		}
	}
	return out, nil
}
