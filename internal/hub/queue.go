package hub

import (
	"container/heap"
	"time"

	"github.com/kubilitics/mission-control/internal/mission"
)

// queueItem is one priority-queue entry. Only immutable ordering keys are
// stored; mission state is looked up in the registry at pop time.
type queueItem struct {
	missionID string
	severity  mission.Severity
	createdAt time.Time
	index     int
}

// missionQueue orders missions severity-descending, then creation time
// ascending: the oldest critical mission is handed out first.
type missionQueue []*queueItem

func (q missionQueue) Len() int { return len(q) }

func (q missionQueue) Less(i, j int) bool {
	if q[i].severity != q[j].severity {
		return q[i].severity > q[j].severity
	}
	return q[i].createdAt.Before(q[j].createdAt)
}

func (q missionQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *missionQueue) Push(x any) {
	item := x.(*queueItem)
	item.index = len(*q)
	*q = append(*q, item)
}

func (q *missionQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*q = old[:n-1]
	return item
}

// ordered returns queue items in priority order without disturbing the heap.
func (q missionQueue) ordered() []*queueItem {
	tmp := make(missionQueue, len(q))
	copy(tmp, q)
	heap.Init(&tmp)
	out := make([]*queueItem, 0, len(tmp))
	for tmp.Len() > 0 {
		out = append(out, heap.Pop(&tmp).(*queueItem))
	}
	return out
}
