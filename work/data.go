package work

// Data is an opaque key/value payload handed between stages.
type Data map[string][]byte

// StringData builds Data from key/value string pairs. A trailing key
// without a value is ignored.
func StringData(kv ...string) Data {
	d := make(Data, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		d[kv[i]] = []byte(kv[i+1])
	}
	return d
}

// String returns the value of key as a string.
func (d Data) String(key string) string {
	return string(d[key])
}

// Clone returns a deep copy of the data.
func (d Data) Clone() Data {
	if d == nil {
		return nil
	}

	c := make(Data, len(d))
	for k, v := range d {
		c[k] = append([]byte(nil), v...)
	}
	return c
}

// merge overlays o on top of d, returning a new Data.
func (d Data) merge(o Data) Data {
	if len(d) == 0 && len(o) == 0 {
		return nil
	}

	m := d.Clone()
	if m == nil {
		m = make(Data, len(o))
	}
	for k, v := range o {
		m[k] = append([]byte(nil), v...)
	}
	return m
}
