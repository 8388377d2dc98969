package editorbrief

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/fablepress/storyforge/internal/llm"
	"github.com/fablepress/storyforge/internal/storymodel"
)

var revisedOutlineTag = regexp.MustCompile(`(?s)<revised_outline chapter="(\d+)">(.*?)</revised_outline>`)

// parseRevisedOutlines scans doc for every <revised_outline chapter="N">
// block and extracts its events_summary and editor_notes children.
func parseRevisedOutlines(doc string) (map[int]storymodel.RevisedOutline, error) {
	matches := revisedOutlineTag.FindAllStringSubmatch(doc, -1)
	if len(matches) == 0 {
		return nil, &llm.ParseError{Raw: doc, ExpectedFields: []string{"revised_outline"}}
	}

	revised := make(map[int]storymodel.RevisedOutline, len(matches))
	for _, m := range matches {
		chapterNum, err := strconv.Atoi(m[1])
		if err != nil {
			return nil, fmt.Errorf("editorbrief: invalid chapter attribute %q: %w", m[1], err)
		}
		body := m[2]
		revised[chapterNum] = storymodel.RevisedOutline{
			ChapterNumber: chapterNum,
			EventsSummary: strings.TrimSpace(extractTag(body, "events_summary")),
			EditorNotes:   strings.TrimSpace(extractTag(body, "editor_notes")),
		}
	}
	return revised, nil
}

// extractTag returns the text content of the first <tag>...</tag> found in
// doc, or "" if absent.
func extractTag(doc, tag string) string {
	open := "<" + tag + ">"
	closeTag := "</" + tag + ">"
	start := strings.Index(doc, open)
	if start < 0 {
		return ""
	}
	start += len(open)
	end := strings.Index(doc[start:], closeTag)
	if end < 0 {
		return ""
	}
	return doc[start : start+end]
}
