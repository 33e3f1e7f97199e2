package work

import (
	"io"

	"github.com/nrwiersma/workchain/work/internal/codec"
	"github.com/pkg/errors"
)

// EncodeTable writes the table to w.
func EncodeTable(w io.Writer, t *Table) error {
	enc, err := codec.NewWriter(w, codec.Header{Version: codec.Version, Index: t.Index})
	if err != nil {
		return err
	}

	for _, c := range t.Chains {
		if err := enc.Write(codec.ChainRecordType, c); err != nil {
			return errors.Wrapf(err, "work: error encoding chain %q", c.Name)
		}
	}
	for _, j := range t.Jobs {
		if err := enc.Write(codec.JobRecordType, j); err != nil {
			return errors.Wrapf(err, "work: error encoding job %q", j.JobID)
		}
	}
	return nil
}

// DecodeTable reads a table written by EncodeTable from r.
func DecodeTable(r io.Reader) (*Table, error) {
	dec, err := codec.NewReader(r)
	if err != nil {
		return nil, err
	}

	t := &Table{Index: dec.Header.Index}
	for {
		typ, err := dec.Next()
		if err == io.EOF {
			return t, nil
		}
		if err != nil {
			return nil, err
		}

		switch typ {
		case codec.ChainRecordType:
			var c ChainRecord
			if err := dec.Decode(&c); err != nil {
				return nil, err
			}
			t.Chains = append(t.Chains, &c)

		case codec.JobRecordType:
			var j Status
			if err := dec.Decode(&j); err != nil {
				return nil, err
			}
			t.Jobs = append(t.Jobs, &j)

		default:
			return nil, errors.Errorf("work: unknown record type %d", typ)
		}
	}
}
