package dialog

import (
	"regexp"
	"strings"
	"time"

	"SportRelay/entity"
)

// question declares one button-driven step: its prompt, the closed set of
// valid choices and the optional skip/other sentinels. Validation is
// membership in this set, nothing else.
type question struct {
	step    entity.Step
	prompt  string
	options []string
	skip    bool
	other   bool
	assign  func(sub *entity.Submission, v string)
}

var questions = map[entity.Step]question{
	entity.StepEventType: {
		step:    entity.StepEventType,
		prompt:  "🏁 What kind of event was it?",
		options: []string{"Championship", "Cup", "Festival", "Tournament"},
		other:   true,
		assign:  func(sub *entity.Submission, v string) { sub.EventType = &v },
	},
	entity.StepDiscipline: {
		step:    entity.StepDiscipline,
		prompt:  "🎿 Which discipline?",
		options: []string{"Sprint", "Middle", "Long", "Relay"},
		skip:    true,
		assign:  func(sub *entity.Submission, v string) { sub.Discipline = &v },
	},
	entity.StepCategory: {
		step:    entity.StepCategory,
		prompt:  "👥 Which category?",
		options: []string{"Men", "Women", "Mixed"},
		assign:  func(sub *entity.Submission, v string) { sub.Category = &v },
	},
	entity.StepStage: {
		step:    entity.StepStage,
		prompt:  "🗺 What stage was it?",
		options: []string{"Regional", "National", "International"},
		assign:  func(sub *entity.Submission, v string) { sub.Stage = &v },
	},
	entity.StepPhase: {
		step:    entity.StepPhase,
		prompt:  "🏆 Which phase?",
		options: []string{"Qualification", "Semifinal", "Final"},
		assign:  func(sub *entity.Submission, v string) { sub.Phase = &v },
	},
}

// accepts reports whether v is a valid choice for this question, counting
// the sentinels when the question carries them.
func (q question) accepts(v string) bool {
	if q.skip && v == entity.SkipValue {
		return true
	}
	if q.other && v == entity.EventTypeOther {
		return true
	}
	for _, opt := range q.options {
		if opt == v {
			return true
		}
	}
	return false
}

// match resolves free text against the choices, so typing an option name
// works the same as pressing its button.
func (q question) match(text string) (string, bool) {
	for _, opt := range q.options {
		if strings.EqualFold(opt, text) {
			return opt, true
		}
	}
	if q.skip && strings.EqualFold(text, "skip") {
		return entity.SkipValue, true
	}
	return "", false
}

// keyboard renders the question's choices, one button per row.
func (q question) keyboard() [][]Button {
	var rows [][]Button
	for _, opt := range q.options {
		rows = append(rows, []Button{{Text: opt, Data: optData(q.step, opt)}})
	}
	if q.other {
		rows = append(rows, []Button{{Text: "Other…", Data: optData(q.step, entity.EventTypeOther)}})
	}
	if q.skip {
		rows = append(rows, []Button{{Text: "⏭ Skip", Data: optData(q.step, entity.SkipValue)}})
	}
	return rows
}

func optData(step entity.Step, value string) string {
	return "opt:" + string(step) + ":" + value
}

var dateFormat = regexp.MustCompile(`^\d{2}\.\d{2}\.(\d{2}|\d{4})$`)

// validDate accepts DD.MM.YY and DD.MM.YYYY calendar dates.
func validDate(s string) bool {
	if !dateFormat.MatchString(s) {
		return false
	}
	layout := "02.01.06"
	if len(s) == 10 {
		layout = "02.01.2006"
	}
	_, err := time.Parse(layout, s)
	return err == nil
}
