package heuristics

import (
	"fmt"
	"strings"
)

// formQuestion is the part of a form question the heuristics read.
type formQuestion struct {
	Name string
	Type string
}

// formSection is a section (or page) of a form schema.
type formSection struct {
	ID        string
	Questions []formQuestion
}

// parseSections walks a form schema document. Sections are read from
// "sections" or "pages"; questions from "questions" or "fields".
func parseSections(schema map[string]any) []formSection {
	if schema == nil {
		return nil
	}
	rawSections := firstList(schema, "sections", "pages")

	sections := make([]formSection, 0, len(rawSections))
	for _, rs := range rawSections {
		sm, ok := rs.(map[string]any)
		if !ok {
			continue
		}
		sec := formSection{ID: firstString(sm, "id", "name")}
		for _, rq := range firstList(sm, "questions", "fields") {
			qm, ok := rq.(map[string]any)
			if !ok {
				continue
			}
			sec.Questions = append(sec.Questions, formQuestion{
				Name: firstString(qm, "name", "id"),
				Type: strings.ToLower(firstString(qm, "type")),
			})
		}
		sections = append(sections, sec)
	}
	return sections
}

func firstList(m map[string]any, keys ...string) []any {
	for _, k := range keys {
		if v, ok := m[k].([]any); ok {
			return v
		}
	}
	return nil
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		v, ok := m[k]
		if !ok || v == nil {
			continue
		}
		return fmt.Sprint(v)
	}
	return ""
}
