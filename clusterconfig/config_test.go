package clusterconfig

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFingerprintStableUnderMemberOrdering(t *testing.T) {
	a := NewConfiguration([]Member{{ID: "b", Endpoint: "host-b"}, {ID: "a", Endpoint: "host-a"}})
	b := NewConfiguration([]Member{{ID: "a", Endpoint: "host-a"}, {ID: "b", Endpoint: "host-b"}})
	require.Equal(t, a.Fingerprint, b.Fingerprint)
	require.Equal(t, a.Members, b.Members) // both sorted by id
}

func TestFingerprintChangesWithMembership(t *testing.T) {
	a := NewConfiguration([]Member{{ID: "a", Endpoint: "host-a"}})
	b := NewConfiguration([]Member{{ID: "a", Endpoint: "host-a"}, {ID: "b", Endpoint: "host-b"}})
	require.NotEqual(t, a.Fingerprint, b.Fingerprint)
}

func TestStoreProposeAndApply(t *testing.T) {
	s := NewStore([]Member{{ID: "a", Endpoint: "host-a"}})

	_, ok := s.Proposed()
	require.False(t, ok)

	cfg, err := s.Propose([]Member{{ID: "a", Endpoint: "host-a"}, {ID: "b", Endpoint: "host-b"}})
	require.NoError(t, err)

	proposed, ok := s.Proposed()
	require.True(t, ok)
	require.Equal(t, cfg.Fingerprint, proposed.Fingerprint)

	// One outstanding proposal at a time (spec §1 "one-at-a-time joint-
	// configuration propagation").
	_, err = s.Propose([]Member{{ID: "c", Endpoint: "host-c"}})
	require.Error(t, err)

	require.NoError(t, s.Apply())
	require.Equal(t, cfg.Fingerprint, s.Active().Fingerprint)
	_, ok = s.Proposed()
	require.False(t, ok)

	// Now that the proposal resolved, a new one may start.
	_, err = s.Propose([]Member{{ID: "c", Endpoint: "host-c"}})
	require.NoError(t, err)
}

func TestStoreApplyWithNothingProposedErrors(t *testing.T) {
	s := NewStore([]Member{{ID: "a", Endpoint: "host-a"}})
	err := s.Apply()
	require.ErrorIs(t, err, ErrNoProposedConfiguration)
}

func TestStoreAdoptProposedBypassesInProgressGuard(t *testing.T) {
	s := NewStore([]Member{{ID: "a", Endpoint: "host-a"}})
	_, err := s.Propose([]Member{{ID: "a", Endpoint: "host-a"}, {ID: "b", Endpoint: "host-b"}})
	require.NoError(t, err)

	// A follower applying a leader's AppendEntries-carried configuration
	// (spec §4.8, the (false,false) branch) overwrites the proposed slot
	// directly, regardless of any local in-progress proposal.
	cfg := NewConfiguration([]Member{{ID: "a", Endpoint: "host-a"}, {ID: "c", Endpoint: "host-c"}})
	s.AdoptProposed(cfg)

	proposed, ok := s.Proposed()
	require.True(t, ok)
	require.Equal(t, cfg.Fingerprint, proposed.Fingerprint)
}

func TestEndpointLookup(t *testing.T) {
	cfg := NewConfiguration([]Member{{ID: "a", Endpoint: "host-a:1234"}})
	endpoint, ok := cfg.Endpoint("a")
	require.True(t, ok)
	require.Equal(t, "host-a:1234", endpoint)

	_, ok = cfg.Endpoint("missing")
	require.False(t, ok)
}

func TestStoreEndpoints(t *testing.T) {
	s := NewStore([]Member{{ID: "a", Endpoint: "host-a"}, {ID: "b", Endpoint: "host-b"}})
	endpoints := s.Endpoints()
	require.Equal(t, map[string]string{"a": "host-a", "b": "host-b"}, endpoints)
}
