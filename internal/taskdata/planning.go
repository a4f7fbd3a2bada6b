package taskdata

import (
	"fmt"
	"strconv"

	"tuleapsync/internal/domain"
	"tuleapsync/internal/field"
	"tuleapsync/internal/taskid"
)

const (
	KeyPlanning    = "mta_planning"
	KeyMilestones  = "mta_milestones"
	KeyBacklog     = "mta_backlog"
	KeyHasCardwall = "mta_has_cardwall"
	KeyColumns     = "mta_cols"
	KeyLanes       = "mta_lanes"

	KeyLabel     = "label"
	KeyStartDate = "start_date"
	KeyEndDate   = "end_date"
	KeyCapacity  = "capacity"
	KeyStatus    = "status"

	milestonePrefix = "mta_milestone-"
	itemPrefix      = "mta_bi-"
	columnPrefix    = "mta_col-"
	lanePrefix      = "mta_lane-"
	cardPrefix      = "mta_card-"

	suffixID        = "-id"
	suffixLabel     = "-lbl"
	suffixStart     = "-start"
	suffixEnd       = "-end"
	suffixCapacity  = "-capacity"
	suffixEffort    = "-effort"
	suffixMilestone = "-milestone"
	suffixItem      = "-item"
	suffixCards     = "-cards"
	suffixCardID    = "-card_id"
	suffixStatusID  = "-status_id"
	fieldSeparator  = "_field-"
)

// MilestoneKey is the key of the i-th sub-milestone in a planning.
func MilestoneKey(i int) string { return milestonePrefix + strconv.Itoa(i) }

// BacklogItemKey is the key of the i-th backlog item in a planning.
func BacklogItemKey(i int) string { return itemPrefix + strconv.Itoa(i) }

func ColumnKey(columnID int) string { return columnPrefix + strconv.Itoa(columnID) }

func LaneKey(i int) string { return lanePrefix + strconv.Itoa(i) }

func CardKey(i int) string { return cardPrefix + strconv.Itoa(i) }

// CardFieldKey is the key of a field value of a card.
func CardFieldKey(cardKey string, fieldID int) string {
	return cardKey + fieldSeparator + strconv.Itoa(fieldID)
}

// TopPlanningID is the key of the planning of a project as a whole.
func TopPlanningID(projectID int) taskid.ID { return taskid.New(projectID, 0, 0) }

// FromMilestone builds the tree of a milestone with its planning.
func FromMilestone(m domain.Milestone, subs []domain.Milestone, backlog []domain.BacklogItem) *Attribute {
	root := NewRoot()
	setHeader(root, m.TaskID(), KindMilestone)
	root.Add(KeySummary, TypeShortText).ReadOnly().WithLabel("Summary").SetValue(m.Label)
	root.Add(KeyLabel, TypeShortText).WithLabel("Label").SetValue(m.Label)
	if m.HTMLURL != "" {
		root.Add(KeyURL, TypeURL).ReadOnly().SetValue(m.HTMLURL)
	}
	if v := formatTime(m.StartDate); v != "" {
		root.Add(KeyStartDate, TypeDateTime).WithLabel("Start date").SetValue(v)
	}
	if v := formatTime(m.EndDate); v != "" {
		root.Add(KeyEndDate, TypeDateTime).WithLabel("End date").SetValue(v)
	}
	if m.Capacity != nil {
		root.Add(KeyCapacity, TypeDouble).WithLabel("Capacity").SetValue(formatFloat(*m.Capacity))
	}
	if m.StatusValue != "" {
		root.Add(KeyStatus, TypeShortText).ReadOnly().WithLabel("Status").SetValue(m.StatusValue)
	}
	addPlanning(root, subs, backlog, m.HasCardwall())
	return root
}

// FromTopPlanning builds the tree of the planning of a whole project.
func FromTopPlanning(projectID int, milestones []domain.Milestone, backlog []domain.BacklogItem) *Attribute {
	root := NewRoot()
	setHeader(root, TopPlanningID(projectID), KindTopPlanning)
	root.Add(KeySummary, TypeShortText).ReadOnly().WithLabel("Summary").SetValue("General Planning")
	addPlanning(root, milestones, backlog, false)
	return root
}

func addPlanning(root *Attribute, subs []domain.Milestone, backlog []domain.BacklogItem, hasCardwall bool) {
	planning := root.Add(KeyPlanning, TypeContainer)
	planning.Add(KeyHasCardwall, TypeBoolean).ReadOnly().SetValue(strconv.FormatBool(hasCardwall))

	byRemoteID := map[int]string{}
	list := planning.Add(KeyMilestones, TypeContainer)
	for i, m := range subs {
		key := MilestoneKey(i)
		id := m.TaskID().String()
		byRemoteID[m.ID] = id
		attr := list.Add(key, TypeContainer).ReadOnly()
		attr.Add(key+suffixID, TypeTaskKey).ReadOnly().SetValue(id)
		attr.Add(key+suffixLabel, TypeShortText).SetValue(m.Label)
		if v := formatTime(m.StartDate); v != "" {
			attr.Add(key+suffixStart, TypeDateTime).SetValue(v)
		}
		if v := formatTime(m.EndDate); v != "" {
			attr.Add(key+suffixEnd, TypeDateTime).SetValue(v)
		}
		if m.Capacity != nil {
			attr.Add(key+suffixCapacity, TypeDouble).SetValue(formatFloat(*m.Capacity))
		}
	}

	items := planning.Add(KeyBacklog, TypeContainer)
	for i, b := range backlog {
		key := BacklogItemKey(i)
		attr := items.Add(key, TypeContainer).ReadOnly()
		addBacklogItem(attr, key, b, byRemoteID[b.AssignedMilestoneID])
	}
}

func addBacklogItem(attr *Attribute, key string, b domain.BacklogItem, assigned string) {
	attr.Add(key+suffixID, TypeTaskKey).ReadOnly().SetValue(b.TaskID().String())
	attr.Add(key+suffixLabel, TypeShortText).SetValue(b.Label)
	if b.InitialEffort != nil {
		attr.Add(key+suffixEffort, TypeDouble).SetValue(formatFloat(*b.InitialEffort))
	}
	if assigned != "" {
		attr.Add(key+suffixMilestone, TypeTaskKey).SetValue(assigned)
	}
}

// FromBacklogItem builds the tree of a backlog item seen through a planning.
func FromBacklogItem(b domain.BacklogItem) *Attribute {
	root := NewRoot()
	setHeader(root, b.TaskID(), KindBacklogItem)
	root.Add(KeySummary, TypeShortText).ReadOnly().WithLabel("Summary").SetValue(b.Label)
	if b.HTMLURL != "" {
		root.Add(KeyURL, TypeURL).ReadOnly().SetValue(b.HTMLURL)
	}
	if b.Status != "" {
		root.Add(KeyStatus, TypeShortText).ReadOnly().WithLabel("Status").SetValue(b.Status)
	}
	if b.InitialEffort != nil {
		root.Add("initial_effort", TypeDouble).ReadOnly().WithLabel("Initial effort").SetValue(formatFloat(*b.InitialEffort))
	}
	return root
}

// PlannedItem is a backlog item of a planning tree. Milestone is nil for
// items left in the backlog.
type PlannedItem struct {
	ID        taskid.ID
	Milestone *taskid.ID
}

// Plan is the order a planning tree gives to its sub-milestones and items.
type Plan struct {
	Milestones []taskid.ID
	Items      []PlannedItem
}

// Backlog is the ordered list of remote ids of the unassigned items.
func (p Plan) Backlog() []int {
	ids := []int{}
	for _, it := range p.Items {
		if it.Milestone == nil {
			ids = append(ids, it.ID.ItemID)
		}
	}
	return ids
}

// Content is the ordered list of remote ids of the items assigned to m.
func (p Plan) Content(m taskid.ID) []int {
	ids := []int{}
	for _, it := range p.Items {
		if it.Milestone != nil && *it.Milestone == m {
			ids = append(ids, it.ID.ItemID)
		}
	}
	return ids
}

// MilestoneIDs is the ordered list of remote ids of the sub-milestones.
func (p Plan) MilestoneIDs() []int {
	ids := make([]int, 0, len(p.Milestones))
	for _, m := range p.Milestones {
		ids = append(ids, m.ItemID)
	}
	return ids
}

// ReadPlanning reads the planning of a milestone or top planning tree in
// the order of its children. Items may only be assigned to sub-milestones of
// the same planning.
func ReadPlanning(root *Attribute) (Plan, error) {
	planning := root.Child(KeyPlanning)
	if planning == nil {
		return Plan{}, fmt.Errorf("task has no planning")
	}
	var plan Plan
	known := map[taskid.ID]bool{}
	for _, c := range planning.Child(KeyMilestones).children() {
		id, err := taskid.Parse(c.Child(c.ID + suffixID).Value())
		if err != nil {
			return Plan{}, fmt.Errorf("%s: %w", c.ID, err)
		}
		known[id] = true
		plan.Milestones = append(plan.Milestones, id)
	}
	for _, c := range planning.Child(KeyBacklog).children() {
		id, err := taskid.Parse(c.Child(c.ID + suffixID).Value())
		if err != nil {
			return Plan{}, fmt.Errorf("%s: %w", c.ID, err)
		}
		item := PlannedItem{ID: id}
		if raw := c.Child(c.ID + suffixMilestone).Value(); raw != "" {
			m, err := taskid.Parse(raw)
			if err != nil {
				return Plan{}, fmt.Errorf("%s: %w", c.ID, err)
			}
			if !known[m] {
				return Plan{}, fmt.Errorf("%s is assigned to %s which is not in this planning", id, m)
			}
			item.Milestone = &m
		}
		plan.Items = append(plan.Items, item)
	}
	return plan, nil
}

// AddCardwall adds the columns and swimlanes of a cardwall to a milestone
// tree. Only literal card values are shown.
func AddCardwall(root *Attribute, cw domain.Cardwall) {
	cols := root.Add(KeyColumns, TypeContainer).ReadOnly()
	for _, c := range cw.Columns {
		cols.Add(ColumnKey(c.ID), TypeShortText).WithKind(c.Color).SetValue(c.Label)
	}
	lanes := root.Add(KeyLanes, TypeContainer)
	for i, lane := range cw.Swimlanes {
		key := LaneKey(i)
		l := lanes.Add(key, TypeContainer)
		itemKey := key + suffixItem
		addBacklogItem(l.Add(itemKey, TypeContainer).ReadOnly(), itemKey, lane.BacklogItem, "")
		cards := l.Add(key+suffixCards, TypeContainer)
		for j, card := range lane.Cards {
			ck := CardKey(j)
			attr := cards.Add(ck, TypeContainer)
			attr.Add(ck+suffixID, TypeTaskKey).ReadOnly().SetValue(card.TaskID().String())
			attr.Add(ck+suffixCardID, TypeShortText).ReadOnly().SetValue(card.ID)
			attr.Add(ck+suffixLabel, TypeShortText).SetValue(card.Label)
			if card.ColumnID != nil {
				attr.Add(ck+suffixStatusID, TypeSingleSelect).SetValue(strconv.Itoa(*card.ColumnID))
			}
			for _, v := range card.Values.All() {
				if lit, ok := v.(field.Literal); ok {
					attr.Add(CardFieldKey(ck, lit.ID), TypeShortText).SetValue(lit.Text)
				}
			}
		}
	}
}
