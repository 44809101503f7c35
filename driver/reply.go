package driver

import (
	"github.com/clusterdb/godriver/description"
)

// Reply is the CORE's structured view of a decoded command reply,
// extracted from the raw Doc by extractReply — grounded on the teacher's
// decodeResult/extractError (x/mongo/driverx/driver.go), generalized from
// bsoncore.Document lookups to Doc.Lookup.
type Reply struct {
	Raw Doc
	OK  bool

	ErrMsg      string
	Code        int32
	CodeName    string
	ErrorLabels []string

	ClusterTime    description.ClusterTime
	HasClusterTime bool

	OperationTime    description.ClusterTime
	HasOperationTime bool

	TopologyVersion *description.TopologyVersion

	Cursor    CursorReply
	HasCursor bool

	WriteErrors       []WriteError
	WriteConcernError *WriteConcernError
}

// CursorReply is the `cursor` subdocument of a find/aggregate/getMore
// reply, per spec.md §6.
type CursorReply struct {
	ID                   int64
	NS                   string
	FirstBatch           []Doc
	NextBatch            []Doc
	PostBatchResumeToken Doc
}

// extractReply reads the known top-level fields out of raw without
// requiring the caller to know anything about the concrete BSON library
// that produced it.
func extractReply(raw Doc) Reply {
	r := Reply{Raw: raw}

	if v, ok := raw.Lookup("ok"); ok {
		r.OK = truthy(v)
	}
	if v, ok := raw.Lookup("errmsg"); ok {
		if s, ok := v.(string); ok {
			r.ErrMsg = s
		}
	}
	if v, ok := raw.Lookup("code"); ok {
		r.Code = asInt32(v)
	}
	if v, ok := raw.Lookup("codeName"); ok {
		if s, ok := v.(string); ok {
			r.CodeName = s
		}
	}
	if v, ok := raw.Lookup("errorLabels"); ok {
		if labels, ok := v.([]string); ok {
			r.ErrorLabels = labels
		}
	}
	if ct, ok := lookupClusterTime(raw, "$clusterTime"); ok {
		r.ClusterTime = ct
		r.HasClusterTime = true
	}
	if ot, ok := lookupClusterTime(raw, "operationTime"); ok {
		r.OperationTime = ot
		r.HasOperationTime = true
	}
	if tv, ok := lookupTopologyVersion(raw); ok {
		r.TopologyVersion = tv
	}
	if cur, ok := raw.LookupDoc("cursor"); ok {
		r.Cursor = decodeCursorReply(cur)
		r.HasCursor = true
	}
	if we, ok := raw.Lookup("writeErrors"); ok {
		if docs, ok := we.([]Doc); ok {
			for _, d := range docs {
				r.WriteErrors = append(r.WriteErrors, WriteError{
					Index:   asInt32(lookupOr(d, "index", int32(0))),
					Code:    asInt32(lookupOr(d, "code", int32(0))),
					Message: asString(lookupOr(d, "errmsg", "")),
				})
			}
		}
	}
	if wce, ok := raw.LookupDoc("writeConcernError"); ok {
		r.WriteConcernError = &WriteConcernError{
			Code:    asInt32(lookupOr(wce, "code", int32(0))),
			Message: asString(lookupOr(wce, "errmsg", "")),
		}
	}
	return r
}

func decodeCursorReply(d Doc) CursorReply {
	var cr CursorReply
	cr.ID = int64(asInt32(lookupOr(d, "id", int32(0))))
	if v, ok := d.Lookup("id"); ok {
		cr.ID = asInt64(v)
	}
	cr.NS = asString(lookupOr(d, "ns", ""))
	if v, ok := d.Lookup("firstBatch"); ok {
		if docs, ok := v.([]Doc); ok {
			cr.FirstBatch = docs
		}
	}
	if v, ok := d.Lookup("nextBatch"); ok {
		if docs, ok := v.([]Doc); ok {
			cr.NextBatch = docs
		}
	}
	if v, ok := d.LookupDoc("postBatchResumeToken"); ok {
		cr.PostBatchResumeToken = v
	}
	return cr
}

func lookupClusterTime(raw Doc, key string) (description.ClusterTime, bool) {
	sub, ok := raw.LookupDoc(key)
	if !ok {
		return description.ClusterTime{}, false
	}
	ctDoc, ok := sub.LookupDoc("clusterTime")
	if !ok {
		// Without a nested clusterTime subdocument, the t/i fields are
		// read directly from sub.
		ctDoc = sub
	}
	sec := asUint32(lookupOr(ctDoc, "t", uint32(0)))
	inc := asUint32(lookupOr(ctDoc, "i", uint32(0)))
	return description.NewClusterTime(sec, inc, nil), true
}

func lookupTopologyVersion(raw Doc) (*description.TopologyVersion, bool) {
	tv, ok := raw.LookupDoc("topologyVersion")
	if !ok {
		return nil, false
	}
	counter := asInt64(lookupOr(tv, "counter", int64(0)))
	var pid description.ProcessID
	if v, ok := tv.Lookup("processId"); ok {
		if b, ok := v.([12]byte); ok {
			pid = description.ProcessID(b)
		}
	}
	return &description.TopologyVersion{ProcessID: pid, Counter: counter}, true
}

func lookupOr(d Doc, key string, def interface{}) interface{} {
	if v, ok := d.Lookup(key); ok {
		return v
	}
	return def
}

func truthy(v interface{}) bool {
	switch x := v.(type) {
	case bool:
		return x
	case int32:
		return x != 0
	case int64:
		return x != 0
	case float64:
		return x != 0
	default:
		return false
	}
}

func asInt32(v interface{}) int32 {
	switch x := v.(type) {
	case int32:
		return x
	case int64:
		return int32(x)
	case float64:
		return int32(x)
	default:
		return 0
	}
}

func asInt64(v interface{}) int64 {
	switch x := v.(type) {
	case int32:
		return int64(x)
	case int64:
		return x
	case float64:
		return int64(x)
	default:
		return 0
	}
}

func asUint32(v interface{}) uint32 {
	switch x := v.(type) {
	case uint32:
		return x
	case int32:
		return uint32(x)
	case int64:
		return uint32(x)
	default:
		return 0
	}
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}
