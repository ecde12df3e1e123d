package pkg

// Paginate slices items for the given zero-based page.
func Paginate[T any](items []T, page int, pageSize int) []T {
	start := page * pageSize
	end := (page + 1) * pageSize

	if start >= len(items) || start < 0 {
		return []T{}
	}

	if end > len(items) {
		end = len(items)
	}

	return items[start:end]
}
