package kvdb

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"github.com/ValentinKolb/tKV/lib/engine"
	"github.com/ValentinKolb/tKV/lib/engine/util"
	"io"
)

// --------------------------------------------------------------------------
// Dump Format
// --------------------------------------------------------------------------
//
//	magic "TKVDUMP\x00" | version (1 byte) | prefix length (1 byte)
//	{ uvarint key length | key | uvarint value length | value }*

var dumpMagic = []byte("TKVDUMP\x00")

const (
	dumpVersion       byte = 1
	importBatchOps         = 1024
	importBatchSizeMB      = 4
)

// Export writes every pair of the KVS, read from one snapshot, to w and returns the number of pairs
func (kvs *KVS) Export(w io.Writer) (int, error) {
	const op = "kvs.export"
	if err := kvs.enter(op); err != nil {
		return 0, err
	}
	defer kvs.db.leave()

	snap, err := kvs.db.snapshot(op)
	if err != nil {
		return 0, err
	}
	defer snap.release()

	it, err := snap.snap.NewIter(kvs.prefix, util.PrefixEnd(kvs.prefix))
	if err != nil {
		return 0, engineError(op, err)
	}
	defer it.Close()

	bw := bufio.NewWriter(w)
	if _, err := bw.Write(dumpMagic); err != nil {
		return 0, &Error{Code: CodeEngine, Op: op, Msg: "failed to write dump", Err: err}
	}
	if err := bw.WriteByte(dumpVersion); err != nil {
		return 0, &Error{Code: CodeEngine, Op: op, Msg: "failed to write dump", Err: err}
	}
	if err := bw.WriteByte(byte(kvs.pfxLen)); err != nil {
		return 0, &Error{Code: CodeEngine, Op: op, Msg: "failed to write dump", Err: err}
	}

	var lenBuf [binary.MaxVarintLen64]byte
	writeChunk := func(b []byte) error {
		n := binary.PutUvarint(lenBuf[:], uint64(len(b)))
		if _, err := bw.Write(lenBuf[:n]); err != nil {
			return err
		}
		_, err := bw.Write(b)
		return err
	}

	count := 0
	for ok := it.First(); ok; ok = it.Next() {
		if err := writeChunk(userKey(it.Key())); err != nil {
			return count, &Error{Code: CodeEngine, Op: op, Msg: "failed to write dump", Err: err}
		}
		if err := writeChunk(it.Value()); err != nil {
			return count, &Error{Code: CodeEngine, Op: op, Msg: "failed to write dump", Err: err}
		}
		count++
	}
	if err := it.Error(); err != nil {
		return count, engineError(op, err)
	}
	if err := bw.Flush(); err != nil {
		return count, &Error{Code: CodeEngine, Op: op, Msg: "failed to write dump", Err: err}
	}
	Logger.Debugf("exported %d pairs of kvs %q", count, kvs.name)
	return count, nil
}

// Import reads a dump written by Export and puts every pair outside of any transaction.
// Pairs are applied in bounded atomic batches, a failed import can be partially applied.
// The dump must come from a KVS with the same prefix length.
func (kvs *KVS) Import(r io.Reader) (int, error) {
	const op = "kvs.import"
	if err := kvs.enter(op); err != nil {
		return 0, err
	}
	defer kvs.db.leave()

	if err := kvs.db.checkWritable(op); err != nil {
		return 0, err
	}

	br := bufio.NewReader(r)
	header := make([]byte, len(dumpMagic)+2)
	if _, err := io.ReadFull(br, header); err != nil {
		return 0, &Error{Code: CodeInvalid, Op: op, Msg: "failed to read dump header", Err: err}
	}
	if !bytes.Equal(header[:len(dumpMagic)], dumpMagic) {
		return 0, NewError(CodeInvalid, op, "input is not a kvs dump")
	}
	if v := header[len(dumpMagic)]; v != dumpVersion {
		return 0, NewError(CodeInvalid, op, "unsupported dump version %d", v)
	}
	if pfx := int(header[len(dumpMagic)+1]); pfx != kvs.pfxLen {
		return 0, NewError(CodeInvalid, op, "dump has prefix length %d, kvs %q has %d", pfx, kvs.name, kvs.pfxLen)
	}

	readChunk := func(limit int) ([]byte, error) {
		n, err := binary.ReadUvarint(br)
		if err != nil {
			return nil, err
		}
		if n > uint64(limit) {
			return nil, NewError(CodeTooLarge, op, "dump entry has %d bytes, the limit is %d", n, limit)
		}
		b := make([]byte, n)
		if _, err := io.ReadFull(br, b); err != nil {
			return nil, err
		}
		return b, nil
	}

	count := 0
	b := engine.NewBatch()
	var written [][]byte
	flush := func() error {
		if b.Empty() {
			return nil
		}
		if err := kvs.db.applyPlain(op, b, written); err != nil {
			return err
		}
		count += b.Len()
		b = engine.NewBatch()
		written = written[:0]
		return nil
	}

	for {
		key, err := readChunk(KeyLenMax)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return count, importError(op, err)
		}
		value, err := readChunk(ValueLenMax)
		if err != nil {
			return count, importError(op, err)
		}
		if err := checkKey(op, key); err != nil {
			return count, err
		}

		full := encodeKey(kvs.prefix, key)
		b.Set(full, value)
		written = append(written, full)
		if b.Len() >= importBatchOps || b.Size() >= importBatchSizeMB<<20 {
			if err := flush(); err != nil {
				return count, err
			}
		}
	}
	if err := flush(); err != nil {
		return count, err
	}
	Logger.Debugf("imported %d pairs into kvs %q", count, kvs.name)
	return count, nil
}

func importError(op string, err error) error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return NewError(CodeInvalid, op, "dump is truncated")
	}
	return &Error{Code: CodeInvalid, Op: op, Msg: "failed to read dump", Err: err}
}

// --------------------------------------------------------------------------
// Statistics
// --------------------------------------------------------------------------

// Stats summarizes the keys and values of a KVS
type Stats struct {
	Keys       int64
	KeySizes   *util.SizeHistogram
	ValueSizes *util.SizeHistogram
}

// Stats scans a snapshot of the KVS and collects key and value size distributions
func (kvs *KVS) Stats() (Stats, error) {
	const op = "kvs.stats"
	if err := kvs.enter(op); err != nil {
		return Stats{}, err
	}
	defer kvs.db.leave()

	snap, err := kvs.db.snapshot(op)
	if err != nil {
		return Stats{}, err
	}
	defer snap.release()

	it, err := snap.snap.NewIter(kvs.prefix, util.PrefixEnd(kvs.prefix))
	if err != nil {
		return Stats{}, engineError(op, err)
	}
	defer it.Close()

	st := Stats{KeySizes: util.NewSizeHistogram(), ValueSizes: util.NewSizeHistogram()}
	for ok := it.First(); ok; ok = it.Next() {
		st.Keys++
		st.KeySizes.AddSample(len(it.Key()) - kvsIDLen)
		st.ValueSizes.AddSample(len(it.Value()))
	}
	if err := it.Error(); err != nil {
		return Stats{}, engineError(op, err)
	}
	return st, nil
}
