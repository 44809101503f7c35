package driver

import (
	"github.com/clusterdb/godriver/description"
	"github.com/clusterdb/godriver/readpref"
)

// attachReadPreference implements spec.md §4.5 step 5's attachment table,
// grounded on the teacher's createReadPref (x/mongo/driverx/driver.go),
// generalized from its OP_QUERY slaveOK-bit special case to the OP_MSG-only
// $readPreference field this module uses exclusively.
func attachReadPreference(cmd Doc, rp *readpref.ReadPref, topologyKind description.TopologyKind, serverKind description.ServerKind) Doc {
	mode := rp.Mode()

	switch {
	case topologyKind == description.Single && serverKind == description.Standalone:
		// Single+standalone: omit entirely.
		return cmd

	case topologyKind == description.Single && serverKind != description.Standalone && serverKind != description.Mongos && serverKind != description.LoadBalancer:
		// Single+replicaset-member: rewrite Primary as PrimaryPreferred,
		// always attach.
		if mode == readpref.PrimaryMode {
			rp = readpref.PrimaryPreferred()
		}
		return cmd.Append("$readPreference", encodeReadPref(rp))

	case topologyKind == description.Sharded || topologyKind == description.LoadBalanced ||
		(topologyKind == description.Single && (serverKind == description.Mongos || serverKind == description.LoadBalancer)):
		// Sharded/LoadBalanced/Single+mongos: attach as-is when non-Primary.
		if mode == readpref.PrimaryMode {
			return cmd
		}
		return cmd.Append("$readPreference", encodeReadPref(rp))

	default:
		// ReplicaSet*: attach when non-Primary.
		if mode == readpref.PrimaryMode {
			return cmd
		}
		return cmd.Append("$readPreference", encodeReadPref(rp))
	}
}

func encodeReadPref(rp *readpref.ReadPref) Doc {
	d := Doc{{Key: "mode", Value: rp.Mode().String()}}
	if sets := rp.TagSets(); len(sets) > 0 {
		var tagDocs []Doc
		for _, set := range sets {
			var td Doc
			for _, t := range set {
				td = td.Append(t.Name, t.Value)
			}
			tagDocs = append(tagDocs, td)
		}
		d = d.Append("tags", tagDocs)
	}
	if ms, ok := rp.MaxStaleness(); ok {
		d = d.Append("maxStalenessSeconds", int32(ms.Seconds()))
	}
	return d
}
