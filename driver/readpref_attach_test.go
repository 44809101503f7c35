package driver

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/clusterdb/godriver/description"
	"github.com/clusterdb/godriver/readpref"
)

func TestAttachReadPreferenceSingleStandaloneOmitsEntirely(t *testing.T) {
	cmd := Doc{{Key: "find", Value: "coll"}}
	got := attachReadPreference(cmd, readpref.Primary(), description.Single, description.Standalone)
	if diff := cmp.Diff(cmd, got); diff != "" {
		t.Errorf("expected the command untouched for Single+Standalone (-want +got):\n%s", diff)
	}
}

func TestAttachReadPreferenceSingleReplicaMemberRewritesPrimary(t *testing.T) {
	cmd := Doc{{Key: "find", Value: "coll"}}
	got := attachReadPreference(cmd, readpref.Primary(), description.Single, description.RSSecondary)

	want := cmd.Append("$readPreference", Doc{{Key: "mode", Value: "primaryPreferred"}})
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("expected Primary rewritten to primaryPreferred and attached (-want +got):\n%s", diff)
	}
}

func TestAttachReadPreferenceShardedOmitsPrimaryMode(t *testing.T) {
	cmd := Doc{{Key: "find", Value: "coll"}}
	got := attachReadPreference(cmd, readpref.Primary(), description.Sharded, description.Mongos)
	if diff := cmp.Diff(cmd, got); diff != "" {
		t.Errorf("expected Sharded+Primary mode to omit $readPreference (-want +got):\n%s", diff)
	}
}

func TestAttachReadPreferenceShardedAttachesNonPrimary(t *testing.T) {
	cmd := Doc{{Key: "find", Value: "coll"}}
	got := attachReadPreference(cmd, readpref.Secondary(), description.Sharded, description.Mongos)

	want := cmd.Append("$readPreference", Doc{{Key: "mode", Value: "secondary"}})
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("expected secondary mode attached as-is for Sharded (-want +got):\n%s", diff)
	}
}

func TestAttachReadPreferenceReplicaSetAttachesNonPrimary(t *testing.T) {
	cmd := Doc{{Key: "find", Value: "coll"}}
	got := attachReadPreference(cmd, readpref.Nearest(), description.ReplicaSetWithPrimary, description.RSSecondary)

	want := cmd.Append("$readPreference", Doc{{Key: "mode", Value: "nearest"}})
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("expected nearest mode attached for a replica set member (-want +got):\n%s", diff)
	}
}

func TestAttachReadPreferenceReplicaSetOmitsPrimaryMode(t *testing.T) {
	cmd := Doc{{Key: "find", Value: "coll"}}
	got := attachReadPreference(cmd, readpref.Primary(), description.ReplicaSetWithPrimary, description.RSPrimary)
	if diff := cmp.Diff(cmd, got); diff != "" {
		t.Errorf("expected Primary mode omitted against a replica set primary (-want +got):\n%s", diff)
	}
}

func TestEncodeReadPrefModeOnlyWithoutTagsOrMaxStaleness(t *testing.T) {
	rp := readpref.SecondaryPreferred()
	got := encodeReadPref(rp)
	want := Doc{{Key: "mode", Value: "secondaryPreferred"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("encodeReadPref() mismatch with no tags/staleness set (-want +got):\n%s", diff)
	}
}
