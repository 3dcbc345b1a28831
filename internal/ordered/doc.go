// Package ordered provides a JSON object type that keeps key order and raw
// values, so documents such as package.json can be edited and written back
// without reshuffling or dropping fields.
package ordered
