package research

import (
	"fathom/internal/tools"
)

// RegisterAll adds every research tool to the registry. The searcher may
// be nil when no store is open; kb_search is skipped in that case.
func RegisterAll(registry *tools.Registry, searcher NoteSearcher) error {
	list := []*tools.Tool{
		WebSearchTool(),
		WebFetchTool(),
	}
	if searcher != nil {
		list = append(list, KBSearchTool(searcher))
	}
	for _, tool := range list {
		if err := registry.Register(tool); err != nil {
			return err
		}
	}
	return nil
}
