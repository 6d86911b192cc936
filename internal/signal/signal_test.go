package signal

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinsight/platform/internal/shared/types"
)

var testThresholds = BucketThresholds{AgedDays: 21, OverdueDays: 30}

func testTime() time.Time {
	return time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
}

func queryRecord(patient, key string, openedDaysAgo int, resolved bool) Record {
	opened := testTime().AddDate(0, 0, -openedDaysAgo)
	return Record{
		StudyID:    "ST-001",
		SiteID:     "S01",
		PatientID:  patient,
		Type:       RecordTypeOpenQuery,
		NaturalKey: key,
		ObservedAt: testTime(),
		OpenedAt:   &opened,
		Resolved:   resolved,
	}
}

func TestUpsertIdempotence(t *testing.T) {
	repo := NewMemoryRepository(testThresholds)
	ctx := context.Background()

	batch := []Record{
		queryRecord("P001", "Q-1", 5, false),
		queryRecord("P001", "Q-2", 25, false),
		queryRecord("P002", "Q-3", 35, false),
	}

	first, err := repo.UpsertRecords(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, 3, first.Inserted)
	assert.Equal(t, 0, first.Updated)

	snapBefore, err := repo.Snapshot(ctx, types.SiteRef("ST-001", "S01"), testTime())
	require.NoError(t, err)

	second, err := repo.UpsertRecords(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Inserted)
	assert.Equal(t, 3, second.Updated)

	snapAfter, err := repo.Snapshot(ctx, types.SiteRef("ST-001", "S01"), testTime())
	require.NoError(t, err)

	// Same batch twice leaves the snapshot byte-identical, version included
	assert.Equal(t, snapBefore, snapAfter)
}

func TestIdenticalBatchLeavesDataVersionAlone(t *testing.T) {
	repo := NewMemoryRepository(testThresholds)
	ctx := context.Background()
	site := types.SiteRef("ST-001", "S01")

	batch := []Record{
		queryRecord("P001", "Q-1", 5, false),
		queryRecord("P001", "Q-2", 25, false),
	}

	_, err := repo.UpsertRecords(ctx, batch)
	require.NoError(t, err)

	v, err := repo.DataVersion(ctx, site)
	require.NoError(t, err)
	require.Equal(t, int64(1), v)

	// A redelivered identical batch must not force downstream regeneration
	result, err := repo.UpsertRecords(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Updated)

	v, err = repo.DataVersion(ctx, site)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v, "no row changed, so the version holds")

	patient, err := repo.DataVersion(ctx, types.PatientRef("ST-001", "S01", "P001"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), patient)

	// One genuinely changed row bumps again
	_, err = repo.UpsertRecords(ctx, []Record{queryRecord("P001", "Q-1", 5, true)})
	require.NoError(t, err)

	v, err = repo.DataVersion(ctx, site)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)
}

func TestDataVersionBumpsOncePerBatch(t *testing.T) {
	repo := NewMemoryRepository(testThresholds)
	ctx := context.Background()
	site := types.SiteRef("ST-001", "S01")

	v, err := repo.DataVersion(ctx, site)
	require.NoError(t, err)
	assert.Equal(t, int64(0), v)

	_, err = repo.UpsertRecords(ctx, []Record{
		queryRecord("P001", "Q-1", 5, false),
		queryRecord("P001", "Q-2", 6, false),
	})
	require.NoError(t, err)

	v, err = repo.DataVersion(ctx, site)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v, "one batch bumps the site version once")

	patient, err := repo.DataVersion(ctx, types.PatientRef("ST-001", "S01", "P001"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), patient)

	_, err = repo.UpsertRecords(ctx, []Record{queryRecord("P001", "Q-1", 5, true)})
	require.NoError(t, err)

	v, err = repo.DataVersion(ctx, site)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)
}

func TestSnapshotQueryAgeBuckets(t *testing.T) {
	records := []Record{
		queryRecord("P001", "Q-fresh", 5, false),
		queryRecord("P001", "Q-aged", 25, false),
		queryRecord("P001", "Q-overdue", 35, false),
		queryRecord("P001", "Q-closed", 40, true),
	}

	snap := BuildSnapshot(types.SiteRef("ST-001", "S01"), testTime(), testThresholds, records)

	assert.Equal(t, 4, snap.QueriesTotal)
	assert.Equal(t, 3, snap.QueriesOpen)
	assert.Equal(t, 2, snap.QueriesAged, "overdue queries count as aged too")
	assert.Equal(t, 1, snap.QueriesOverdue)
}

func TestSnapshotMissingVisitDistinctPatients(t *testing.T) {
	visit := func(patient, key string) Record {
		return Record{
			StudyID:     "ST-001",
			SiteID:      "S01",
			PatientID:   patient,
			Type:        RecordTypeMissingVisit,
			NaturalKey:  key,
			ObservedAt:  testTime(),
			VisitNumber: "V3",
			Missing:     true,
		}
	}

	records := []Record{
		visit("P001", "V3-a"),
		visit("P001", "V3-b"), // same patient twice, counts once
		visit("P002", "V3-c"),
		visit("P003", "V3-d"),
	}

	site := BuildSnapshot(types.SiteRef("ST-001", "S01"), testTime(), testThresholds, records)
	assert.Equal(t, 3, site.MissingVisitPatients["V3"], "distinct patients, not rows")

	patient := BuildSnapshot(types.PatientRef("ST-001", "S01", "P001"), testTime(), testThresholds, records[:2])
	assert.Nil(t, patient.MissingVisitPatients, "patient snapshots carry no cross-entity counts")
}

func TestSnapshotFormAndCodingCounts(t *testing.T) {
	records := []Record{
		{StudyID: "ST-001", SiteID: "S01", PatientID: "P001", Type: RecordTypeFormStatus,
			NaturalKey: "F1", ObservedAt: testTime(), Required: true, Complete: true, Verified: true},
		{StudyID: "ST-001", SiteID: "S01", PatientID: "P001", Type: RecordTypeFormStatus,
			NaturalKey: "F2", ObservedAt: testTime(), Required: true, Complete: false, Verified: false},
		{StudyID: "ST-001", SiteID: "S01", PatientID: "P001", Type: RecordTypeCodingIssue,
			NaturalKey: "C1", ObservedAt: testTime(), Term: "headache", Resolved: false},
		{StudyID: "ST-001", SiteID: "S01", PatientID: "P001", Type: RecordTypeCodingIssue,
			NaturalKey: "C2", ObservedAt: testTime(), Term: "nausea", Resolved: true},
		{StudyID: "ST-001", SiteID: "S01", PatientID: "P001", Type: RecordTypeVisitProjection,
			NaturalKey: "V1", ObservedAt: testTime(), VisitNumber: "V1", Completed: true},
		{StudyID: "ST-001", SiteID: "S01", PatientID: "P001", Type: RecordTypeVisitProjection,
			NaturalKey: "V2", ObservedAt: testTime(), VisitNumber: "V2", Completed: false},
	}

	snap := BuildSnapshot(types.PatientRef("ST-001", "S01", "P001"), testTime(), testThresholds, records)

	assert.Equal(t, 2, snap.FormsTotal)
	assert.Equal(t, 1, snap.FormsVerified)
	assert.Equal(t, 2, snap.FieldsExpected)
	assert.Equal(t, 1, snap.FieldsMissing)
	assert.Equal(t, 2, snap.CodableTotal)
	assert.Equal(t, 1, snap.CodingOpen)
	assert.Equal(t, 2, snap.VisitsExpected)
	assert.Equal(t, 1, snap.VisitsCompleted)
}

func TestRecordValidate(t *testing.T) {
	valid := queryRecord("P001", "Q-1", 5, false)
	assert.Nil(t, valid.Validate())

	missingStudy := valid
	missingStudy.StudyID = ""
	problems := missingStudy.Validate()
	require.NotNil(t, problems)
	assert.Contains(t, problems, "study_id")

	badType := valid
	badType.Type = "bogus"
	problems = badType.Validate()
	require.NotNil(t, problems)
	assert.Contains(t, problems, "type")

	openNoDate := valid
	openNoDate.OpenedAt = nil
	problems = openNoDate.Validate()
	require.NotNil(t, problems)
	assert.Contains(t, problems, "opened_at")
}

func TestActiveEntities(t *testing.T) {
	repo := NewMemoryRepository(testThresholds)
	ctx := context.Background()

	batch := []Record{
		queryRecord("P001", "Q-1", 5, false),
		{StudyID: "ST-001", SiteID: "S02", PatientID: "P009", Type: RecordTypeOpenQuery,
			NaturalKey: "Q-2", ObservedAt: testTime(), Resolved: true},
	}
	_, err := repo.UpsertRecords(ctx, batch)
	require.NoError(t, err)

	entities, err := repo.ActiveEntities(ctx)
	require.NoError(t, err)
	require.Len(t, entities, 2)
	assert.Equal(t, "site:ST-001:S01", entities[0].Key())
	assert.Equal(t, "site:ST-001:S02", entities[1].Key())
}
