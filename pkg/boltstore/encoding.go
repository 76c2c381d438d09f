package boltstore

import (
	"bytes"
	"encoding/gob"

	"github.com/crystal-mush/mushcode/pkg/gamedb"
)

func encode[T any](v *T) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decode[T any](data []byte) (*T, error) {
	var v T
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&v); err != nil {
		return nil, err
	}
	return &v, nil
}

func encodeObject(obj *gamedb.Object) ([]byte, error) { return encode(obj) }

func decodeObject(data []byte) (*gamedb.Object, error) { return decode[gamedb.Object](data) }

func encodeChannel(ch *gamedb.Channel) ([]byte, error) { return encode(ch) }

func decodeChannel(data []byte) (*gamedb.Channel, error) { return decode[gamedb.Channel](data) }
