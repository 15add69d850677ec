package columnstore

import (
	"bytes"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Secondary indexes are emulated as ordinary leveldb keys whose lexical
// ordering does the work a real index would do: an index entry for column
// family cf, column col, value val, row key rk is stored under
//
//	idx/<cf>/<col>/<val>\x00<rk> -> (nothing; existence is the payload)
//
// Equality lookups become a prefix scan on idx/<cf>/<col>/<val>\x00.
// Range lookups on the path column become a bounded scan between the two
// encoded bounds, which works because string value bytes sort the same way
// under goleveldb's byte-wise comparator as they do under Go's string <.

func indexKey(cf, col, val, rowKey string) []byte {
	var buf bytes.Buffer
	buf.WriteString("idx/")
	buf.WriteString(cf)
	buf.WriteByte('/')
	buf.WriteString(col)
	buf.WriteByte('/')
	buf.WriteString(val)
	buf.WriteByte(0)
	buf.WriteString(rowKey)
	return buf.Bytes()
}

func indexPrefix(cf, col, val string) []byte {
	var buf bytes.Buffer
	buf.WriteString("idx/")
	buf.WriteString(cf)
	buf.WriteByte('/')
	buf.WriteString(col)
	buf.WriteByte('/')
	buf.WriteString(val)
	buf.WriteByte(0)
	return buf.Bytes()
}

func indexColumnPrefix(cf, col string) []byte {
	return []byte("idx/" + cf + "/" + col + "/")
}

// rowKeyFromIndexKey extracts the row key suffix of an index entry:
// everything after the last NUL byte, which terminates the value.
func rowKeyFromIndexKey(key []byte) string {
	i := bytes.LastIndexByte(key, 0)
	if i < 0 {
		return ""
	}
	return string(key[i+1:])
}

// scanEquality returns every row key indexed under exactly (cf, col, val).
func scanEquality(db *leveldb.DB, cf, col, val string) ([]string, error) {
	prefix := indexPrefix(cf, col, val)
	iter := db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()

	var keys []string
	for iter.Next() {
		keys = append(keys, rowKeyFromIndexKey(iter.Key()))
	}
	return keys, iter.Error()
}

// scanRange returns every row key indexed under (cf, col, v) for v in
// [low, high) (empty high means unbounded above).
func scanRange(db *leveldb.DB, cf, col, low, high string) ([]string, error) {
	start := indexColumnPrefix(cf, col)
	start = append(start, []byte(low)...)

	var limit *util.Range
	if high == "" {
		limit = &util.Range{Start: start, Limit: nil}
	} else {
		end := indexColumnPrefix(cf, col)
		end = append(end, []byte(high)...)
		limit = &util.Range{Start: start, Limit: end}
	}

	colPrefix := indexColumnPrefix(cf, col)
	iter := db.NewIterator(limit, nil)
	defer iter.Release()

	var keys []string
	for iter.Next() {
		if !bytes.HasPrefix(iter.Key(), colPrefix) {
			break
		}
		keys = append(keys, rowKeyFromIndexKey(iter.Key()))
	}
	return keys, iter.Error()
}
