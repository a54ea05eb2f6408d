package repository_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xiaot623/quorum/internal/domain"
	"github.com/xiaot623/quorum/internal/repository"
	"github.com/xiaot623/quorum/tests/helpers"
)

func TestSeededData(t *testing.T) {
	ctx := context.Background()
	store := helpers.NewTestSQLiteStore(t)

	thread, err := store.GetThread(ctx, repository.DemoSubjectID)
	require.NoError(t, err)
	assert.Equal(t, 0, thread.ReplyCount)

	participants, err := store.ListAvailableParticipants(ctx)
	require.NoError(t, err)
	require.Len(t, participants, 4)
	assert.Equal(t, "Synthesizer", participants[0].Name)
	assert.Equal(t, "Skeptic", participants[1].Name)
	assert.True(t, participants[1].Active)
}

func TestThreadLifecycle(t *testing.T) {
	ctx := context.Background()
	store := helpers.NewTestSQLiteStore(t)

	require.NoError(t, store.CreateThread(ctx, &domain.Thread{SubjectID: "thread-7", Title: "Is the graph misleading?"}))

	err := store.CreateThread(ctx, &domain.Thread{SubjectID: "thread-7", Title: "again"})
	assert.True(t, errors.Is(err, domain.ErrInvalidArgument))

	err = store.CreateThread(ctx, &domain.Thread{SubjectID: "  "})
	assert.True(t, errors.Is(err, domain.ErrInvalidArgument))

	post, err := store.AppendContribution(ctx, "thread-7", domain.Contribution{Author: "Synthesizer", Body: "summary"})
	require.NoError(t, err)
	assert.NotEmpty(t, post.PostID)
	require.NoError(t, store.IncrementReplyCount(ctx, "thread-7"))

	thread, err := store.GetThread(ctx, "thread-7")
	require.NoError(t, err)
	assert.Equal(t, 1, thread.ReplyCount)
	assert.Equal(t, "Is the graph misleading?", thread.Title)

	posts, err := store.ListPosts(ctx, "thread-7")
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.Equal(t, "Synthesizer", posts[0].Author)
	assert.Equal(t, "summary", posts[0].Body)
}

func TestMissingThread(t *testing.T) {
	ctx := context.Background()
	store := helpers.NewTestSQLiteStore(t)

	_, err := store.GetThread(ctx, "nope")
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	_, err = store.AppendContribution(ctx, "nope", domain.Contribution{Author: "a", Body: "b"})
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	err = store.IncrementReplyCount(ctx, "nope")
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	posts, err := store.ListPosts(ctx, "nope")
	require.NoError(t, err)
	assert.Empty(t, posts)
}

func TestPublishContribution(t *testing.T) {
	ctx := context.Background()
	store := helpers.NewTestSQLiteStore(t)

	post, err := store.PublishContribution(ctx, repository.DemoSubjectID, domain.Contribution{Author: "Synthesizer", Body: "summary"})
	require.NoError(t, err)
	assert.Equal(t, "Synthesizer", post.Author)

	thread, err := store.GetThread(ctx, repository.DemoSubjectID)
	require.NoError(t, err)
	assert.Equal(t, 1, thread.ReplyCount)

	_, err = store.PublishContribution(ctx, "nope", domain.Contribution{Author: "a", Body: "b"})
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestPublishContributionRollsBackWhenCounterFails(t *testing.T) {
	ctx := context.Background()
	store := helpers.NewTestSQLiteStore(t)
	require.NoError(t, repository.ExecRaw(store, `CREATE TRIGGER freeze_replies BEFORE UPDATE OF reply_count ON threads
		BEGIN SELECT RAISE(ABORT, 'reply count frozen'); END`))

	_, err := store.PublishContribution(ctx, repository.DemoSubjectID, domain.Contribution{Author: "Synthesizer", Body: "summary"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reply count frozen")

	posts, err := store.ListPosts(ctx, repository.DemoSubjectID)
	require.NoError(t, err)
	assert.Empty(t, posts)

	thread, err := store.GetThread(ctx, repository.DemoSubjectID)
	require.NoError(t, err)
	assert.Equal(t, 0, thread.ReplyCount)
}

func TestUpsertParticipant(t *testing.T) {
	ctx := context.Background()
	store := helpers.NewTestSQLiteStore(t)

	require.NoError(t, store.UpsertParticipant(ctx, &domain.Participant{
		Name:      "Skeptic",
		Role:      "reviewer",
		Active:    false,
		CreatedAt: time.Now(),
	}))
	require.NoError(t, store.UpsertParticipant(ctx, &domain.Participant{Name: "Newcomer", Role: "reviewer", Active: true}))

	available, err := store.ListAvailableParticipants(ctx)
	require.NoError(t, err)
	names := make([]string, len(available))
	for i, p := range available {
		names[i] = p.Name
	}
	assert.Equal(t, []string{"Synthesizer", "Archivist", "Cartographer", "Newcomer"}, names)

	all, err := store.ListParticipants(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 5)

	err = store.UpsertParticipant(ctx, &domain.Participant{Name: ""})
	assert.True(t, errors.Is(err, domain.ErrInvalidArgument))
}

func TestReopenIsIdempotent(t *testing.T) {
	dsn := "file:reopen?mode=memory&cache=shared"
	first, err := repository.NewSQLiteStore(dsn, helpers.DiscardLogger())
	require.NoError(t, err)
	defer first.Close()

	second, err := repository.NewSQLiteStore(dsn, helpers.DiscardLogger())
	require.NoError(t, err)
	defer second.Close()

	participants, err := second.ListParticipants(context.Background())
	require.NoError(t, err)
	assert.Len(t, participants, 4)
}
