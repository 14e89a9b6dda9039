package node

// Result is what a handler returns for one row. It is one of Single,
// Multiple or None.
type Result interface {
	isResult()
}

// Single appends items to the first output.
type Single struct {
	Items []Item
}

// Multiple replaces the whole output array.
type Multiple struct {
	Outputs [][]Item
}

// None emits nothing for the row.
type None struct{}

func (Single) isResult()   {}
func (Multiple) isResult() {}
func (None) isResult()     {}

// JSON builds a Single result from a decoded payload: an array becomes one
// item per element, anything else one item.
func JSON(v any) Result {
	if arr, ok := v.([]any); ok {
		items := make([]Item, 0, len(arr))
		for _, el := range arr {
			items = append(items, ItemFromJSON(el))
		}

		return Single{Items: items}
	}

	return Single{Items: []Item{ItemFromJSON(v)}}
}

// Items builds a Single result.
func Items(items ...Item) Result {
	return Single{Items: items}
}
