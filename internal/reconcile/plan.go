// Package reconcile implements the decision table and planner: classify
// each path touched by the local or remote diff into an operation, apply
// the folder's conflict policy where the table alone cannot decide, and
// order the resulting plan. Driven one path at a time the way a
// comparable local-vs-remote loop would, generalized from a single
// always-overwrite-remote policy to a four-policy conflict table.
package reconcile

import (
	"time"

	"github.com/baludesk/baludesk-core/internal/model"
	"github.com/baludesk/baludesk-core/internal/queue"
)

// OpKind is the action a plan entry carries out.
type OpKind string

const (
	OpUpload       OpKind = "upload"
	OpDownload     OpKind = "download"
	OpRemoteDelete OpKind = "remote-delete"
	OpLocalDelete  OpKind = "local-delete"
	OpAdopt        OpKind = "adopt" // baseline write only, no transfer
	OpDropBaseline OpKind = "drop-baseline"
	OpNoop         OpKind = "noop"
)

// LocalSide and RemoteSide classify one path's state in a diff.
type LocalSide string
type RemoteSide string

const (
	SideNone      LocalSide = "none"
	SideCreated   LocalSide = "created"
	SideModified  LocalSide = "modified"
	SideDeleted   LocalSide = "deleted"
	SideUnchanged LocalSide = "unchanged"
)

const (
	RemoteSideNone      RemoteSide = "none"
	RemoteSideCreated   RemoteSide = "created"
	RemoteSideModified  RemoteSide = "modified"
	RemoteSideDeleted   RemoteSide = "deleted"
	RemoteSideUnchanged RemoteSide = "unchanged"
)

// PathInput is one relative path's combined local/remote classification
// plus whatever the planner needs to resolve ties.
type PathInput struct {
	RelPath    model.RelPath
	Local           LocalSide
	Remote          RemoteSide
	BaselinePresent bool

	LocalFingerprint  string
	RemoteFingerprint string
	LocalModTime      time.Time
	RemoteModTime     time.Time
	LocalSize         int64
	RemoteSize        int64
}

// Op is one planned operation.
type Op struct {
	RelPath model.RelPath
	Kind    OpKind
	Input   PathInput
}

// ConflictOutcome is returned when a path resolves to a Conflict row
// rather than an executable operation (ask-user policy).
type ConflictOutcome struct {
	RelPath model.RelPath
	Kind    model.ConflictKind
}

// Result is one classification pass over every path touched by a
// reconcile.
type Result struct {
	Ops       []Op
	Conflicts []ConflictOutcome
}

// Classify applies the decision table and the folder's policy to every
// path in inputs, returning an unordered set of operations and
// ask-user conflicts.
func Classify(inputs []PathInput, policy model.ConflictPolicy) Result {
	var result Result

	for _, in := range inputs {
		kind, conflict, ok := decide(in)
		if !ok {
			continue
		}

		if conflict == "" {
			if kind != OpNoop {
				result.Ops = append(result.Ops, Op{RelPath: in.RelPath, Kind: kind, Input: in})
			}
			continue
		}

		resolvedKind, resolved := applyPolicy(in, conflict, policy)
		if !resolved {
			result.Conflicts = append(result.Conflicts, ConflictOutcome{RelPath: in.RelPath, Kind: conflict})
			continue
		}
		if resolvedKind != OpNoop {
			result.Ops = append(result.Ops, Op{RelPath: in.RelPath, Kind: resolvedKind, Input: in})
		}
	}

	return result
}

// decide implements the unconditional rows of the decision table. A
// non-empty model.ConflictKind return means the row needs policy
// resolution; ok=false means the path produces no operation at all
// (e.g. both sides unchanged with no baseline).
func decide(in PathInput) (kind OpKind, conflict model.ConflictKind, ok bool) {
	switch {
	case in.Local == SideCreated && in.Remote == RemoteSideNone && !in.BaselinePresent:
		return OpUpload, "", true

	case in.Local == SideNone && in.Remote == RemoteSideCreated && !in.BaselinePresent:
		return OpDownload, "", true

	case in.Local == SideCreated && in.Remote == RemoteSideCreated && !in.BaselinePresent:
		if in.LocalFingerprint != "" && in.LocalFingerprint == in.RemoteFingerprint {
			return OpAdopt, "", true
		}
		return "", model.ConflictBothModified, true

	case in.Local == SideModified && in.Remote == RemoteSideNone && in.BaselinePresent:
		return OpUpload, "", true

	case in.Local == SideModified && in.Remote == RemoteSideUnchanged && in.BaselinePresent:
		return OpUpload, "", true

	case in.Local == SideNone && in.Remote == RemoteSideModified && in.BaselinePresent:
		return OpDownload, "", true

	case in.Local == SideModified && in.Remote == RemoteSideModified && in.BaselinePresent:
		return "", model.ConflictBothModified, true

	case in.Local == SideDeleted && in.Remote == RemoteSideNone && in.BaselinePresent:
		return OpRemoteDelete, "", true

	case in.Local == SideNone && in.Remote == RemoteSideDeleted && in.BaselinePresent:
		return OpLocalDelete, "", true

	case in.Local == SideDeleted && in.Remote == RemoteSideDeleted && in.BaselinePresent:
		return OpDropBaseline, "", true

	case in.Local == SideModified && in.Remote == RemoteSideDeleted && in.BaselinePresent:
		return "", model.ConflictLocalModRemoteDeleted, true

	case in.Local == SideDeleted && in.Remote == RemoteSideModified && in.BaselinePresent:
		return "", model.ConflictRemoteModLocalDeleted, true

	case in.Local == SideUnchanged && in.Remote == RemoteSideModified && in.BaselinePresent:
		return OpDownload, "", true

	case in.Local == SideModified && in.Remote == RemoteSideUnchanged && in.BaselinePresent:
		return OpUpload, "", true

	case in.Local == SideUnchanged && in.Remote == RemoteSideNone && in.BaselinePresent:
		return OpNoop, "", true

	default:
		return OpNoop, "", false
	}
}

// applyPolicy resolves a conflict row per the folder's configured
// policy. The bool return is false only for ask-user, meaning the
// caller should record a Conflict row instead of executing anything.
func applyPolicy(in PathInput, conflict model.ConflictKind, policy model.ConflictPolicy) (OpKind, bool) {
	switch policy {
	case model.PolicyKeepLocal:
		return conflictAsUpload(conflict), true

	case model.PolicyKeepRemote:
		return conflictAsDownload(conflict), true

	case model.PolicyKeepNewest:
		if in.LocalFingerprint != "" && in.LocalFingerprint == in.RemoteFingerprint {
			return OpAdopt, true
		}
		if in.LocalModTime.After(in.RemoteModTime) {
			return conflictAsUpload(conflict), true
		}
		if in.RemoteModTime.After(in.LocalModTime) {
			return conflictAsDownload(conflict), true
		}
		// Exact tie: keep local.
		return conflictAsUpload(conflict), true

	default: // PolicyAskUser
		return OpNoop, false
	}
}

// conflictAsUpload/conflictAsDownload map a conflict kind to the
// operation keep-local/keep-remote ultimately executes. A deleted side
// being kept becomes a delete of the other side instead of a transfer.
func conflictAsUpload(kind model.ConflictKind) OpKind {
	if kind == model.ConflictRemoteModLocalDeleted {
		// Local side was deleted; "keep local" means propagate the delete.
		return OpRemoteDelete
	}
	return OpUpload
}

func conflictAsDownload(kind model.ConflictKind) OpKind {
	if kind == model.ConflictLocalModRemoteDeleted {
		// Remote side was deleted; "keep remote" means propagate the delete.
		return OpLocalDelete
	}
	return OpDownload
}

// opRank gives deletions priority over creations/uploads/downloads at the
// same path; Order adds the path length to rank*1_000_000, so within a
// rank shorter paths (and so parent directories) come first without
// needing a second sort key.
func opRank(k OpKind) int {
	switch k {
	case OpRemoteDelete, OpLocalDelete, OpDropBaseline:
		return 0
	default:
		return 1
	}
}

// Order sorts ops by planning rules, draining a priority queue rather
// than a plain sort, scheduling transfers so that lower priority numbers
// run first.
func Order(ops []Op) []Op {
	pq := queue.NewPriorityQueue[Op]()
	for _, op := range ops {
		priority := opRank(op.Kind)*1_000_000 + len(op.RelPath.String())
		pq.Enqueue(op, priority)
	}
	return pq.DequeueAll()
}
