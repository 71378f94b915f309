package signedurl

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eve.evalgo.org/ingest/connector"
	"eve.evalgo.org/ingest/model"
)

func TestIssueAndValidate_RoundTripsClaims(t *testing.T) {
	ring := NewSecretRing("secret-v1")
	claims := Claims{
		OrgID:     "org1",
		RecordID:  "rec1",
		UserID:    "user1",
		Connector: "DROPBOX",
		Scopes:    []string{"read"},
		ExpiresAt: time.Now().Add(time.Hour),
	}
	token, err := ring.Issue(claims)
	require.NoError(t, err)

	got, err := ring.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "org1", got.OrgID)
	assert.Equal(t, "rec1", got.RecordID)
	assert.Equal(t, "DROPBOX", got.Connector)
	assert.Equal(t, []string{"read"}, got.Scopes)
}

func TestValidate_FallsBackToPreviousSecretDuringRotation(t *testing.T) {
	ring := NewSecretRing("secret-v1")
	token, err := ring.Issue(Claims{OrgID: "org1", RecordID: "rec1", ExpiresAt: time.Now().Add(time.Hour)})
	require.NoError(t, err)

	ring.Rotate("secret-v2")

	got, err := ring.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "org1", got.OrgID)
}

func TestValidate_RejectsUnknownSecret(t *testing.T) {
	ring := NewSecretRing("secret-v1")
	token, err := ring.Issue(Claims{OrgID: "org1", RecordID: "rec1", ExpiresAt: time.Now().Add(time.Hour)})
	require.NoError(t, err)

	other := NewSecretRing("totally-different")
	_, err = other.Validate(token)
	assert.Error(t, err)
}

type fakeLookup struct {
	record *model.Record
}

func (f fakeLookup) GetRecord(ctx context.Context, orgID, recordID string) (*model.Record, error) {
	return f.record, nil
}

func TestRouter_DeniesMismatchedConnectorClaim(t *testing.T) {
	ring := NewSecretRing("secret")
	token, err := ring.Issue(Claims{OrgID: "org1", RecordID: "rec1", Connector: "DROPBOX", ExpiresAt: time.Now().Add(time.Hour)})
	require.NoError(t, err)

	router := &Router{
		Ring:    ring,
		Records: fakeLookup{record: &model.Record{EntityMeta: model.EntityMeta{ConnectorName: "GMAIL"}}},
		Stream: func(ctx context.Context, record *model.Record, convertTo *string) (*connector.StreamingResponse, error) {
			t.Fatal("Stream should not be called when scopes are denied")
			return nil, nil
		},
	}
	_, err = router.Resolve(context.Background(), token, nil)
	assert.ErrorIs(t, err, ErrScopeDenied)
}

func TestRouter_DispatchesToStreamOnMatch(t *testing.T) {
	ring := NewSecretRing("secret")
	token, err := ring.Issue(Claims{OrgID: "org1", RecordID: "rec1", Connector: "DROPBOX", ExpiresAt: time.Now().Add(time.Hour)})
	require.NoError(t, err)

	called := false
	router := &Router{
		Ring:    ring,
		Records: fakeLookup{record: &model.Record{EntityMeta: model.EntityMeta{ConnectorName: "DROPBOX"}}},
		Stream: func(ctx context.Context, record *model.Record, convertTo *string) (*connector.StreamingResponse, error) {
			called = true
			return &connector.StreamingResponse{}, nil
		},
	}
	_, err = router.Resolve(context.Background(), token, nil)
	require.NoError(t, err)
	assert.True(t, called)
}
