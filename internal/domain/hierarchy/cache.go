package hierarchy

// RowCache memoises lookups made while processing one root case. Create one per row
// and drop it afterwards; it is not safe for concurrent use.
type RowCache struct {
	values map[string]interface{}
}

func NewRowCache() *RowCache {
	return &RowCache{values: make(map[string]interface{})}
}

// Remember returns the cached value for key, computing it with fn on first use.
// Errors are returned without being cached.
func Remember[T any](c *RowCache, key string, fn func() (T, error)) (T, error) {
	if v, ok := c.values[key]; ok {
		return v.(T), nil
	}
	v, err := fn()
	if err != nil {
		return v, err
	}
	c.values[key] = v
	return v, nil
}

// Len reports how many keys are cached.
func (c *RowCache) Len() int { return len(c.values) }
