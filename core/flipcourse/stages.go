package flipcourse

import (
	"github.com/benhuang0857/mclass/core/user"
)

// edge is a legal stage change and the participant allowed to make it.
type edge struct {
	from, to Stage
	actor    func(fc FlipCourse, caller user.User) bool
}

func isPlanner(fc FlipCourse, caller user.User) bool   { return fc.PlannerID == caller.ID }
func isCounselor(fc FlipCourse, caller user.User) bool { return fc.IsCounselor(caller.ID) }
func isAnalyst(fc FlipCourse, caller user.User) bool   { return fc.IsAnalyst(caller.ID) }

var edges = []edge{
	{StageCreated, StagePlanning, isPlanner},
	{StagePlanning, StageCounseling, isPlanner},
	{StageCounseling, StageAnalyzing, isCounselor},
	{StageAnalyzing, StageCycling, isAnalyst},
	{StageCycling, StageCounseling, isPlanner},
	{StageCycling, StageCompleted, isPlanner},
}

func findEdge(from, to Stage) (edge, bool) {
	for _, e := range edges {
		if e.from == from && e.to == to {
			return e, true
		}
	}
	return edge{}, false
}

// NextStages lists the stages reachable from s.
func NextStages(s Stage) []Stage {
	var next []Stage
	for _, e := range edges {
		if e.from == s {
			next = append(next, e.to)
		}
	}
	return next
}
