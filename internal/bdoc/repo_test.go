package bdoc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepo_Businesses(t *testing.T) {
	ctx := context.Background()
	repo := NewRepo(openTestDB(t))

	require.NoError(t, repo.SeedBusinesses(ctx, []string{"Retail", "Banking", ""}))
	require.NoError(t, repo.SeedBusinesses(ctx, []string{"Banking", "Healthcare"}))

	names, err := repo.ListBusinessNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Retail", "Banking", "Healthcare"}, names)

	id, err := repo.FindBusinessID(ctx, "Banking")
	require.NoError(t, err)
	assert.NotZero(t, id)

	_, err = repo.FindBusinessID(ctx, "Nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRepo_ListBusinessNamesEmpty(t *testing.T) {
	names, err := NewRepo(openTestDB(t)).ListBusinessNames(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, names)
	assert.Empty(t, names)
}

func TestRepo_JobLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewRepo(openTestDB(t))

	job := &Job{ID: "01JOBID0000000000000000000", Tag: "sql", Script: "SELECT 1", Business: "Acme", Status: JobQueued}
	require.NoError(t, repo.CreateJob(ctx, job))

	require.NoError(t, repo.MarkJobRunning(ctx, job.ID))
	got, err := repo.GetJobByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobRunning, got.Status)
	assert.Equal(t, 1, got.Attempts)

	require.NoError(t, repo.MarkJobRetrying(ctx, job.ID, Outcome{ErrorKind: KindModelCall, StatusCode: 502, Message: "timeout"}))
	require.NoError(t, repo.MarkJobRunning(ctx, job.ID))
	got, err = repo.GetJobByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Attempts)
	require.NotNil(t, got.ErrorKind)
	assert.Equal(t, string(KindModelCall), *got.ErrorKind)

	require.NoError(t, repo.MarkJobSucceeded(ctx, job.ID, ArtifactRef{PDFID: 7, Path: "pdfs/x.pdf"}))
	got, err = repo.GetJobByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobSucceeded, got.Status)
	require.NotNil(t, got.PDFID)
	assert.EqualValues(t, 7, *got.PDFID)
	assert.Nil(t, got.ErrorKind)
	assert.Nil(t, got.Error)

	_, err = repo.GetJobByID(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRepo_MarkJobFailed(t *testing.T) {
	ctx := context.Background()
	repo := NewRepo(openTestDB(t))
	job := &Job{ID: "01JOBID0000000000000000001", Tag: "sql", Script: "x", Business: "Acme", Status: JobQueued}
	require.NoError(t, repo.CreateJob(ctx, job))

	require.NoError(t, repo.MarkJobFailed(ctx, job.ID, Outcome{ErrorKind: KindQuotaExhausted, StatusCode: 403, Message: "No More Requests Left"}))
	got, err := repo.GetJobByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobFailed, got.Status)
	require.NotNil(t, got.StatusCode)
	assert.Equal(t, 403, *got.StatusCode)
	require.NotNil(t, got.Error)
	assert.Equal(t, "No More Requests Left", *got.Error)
}
