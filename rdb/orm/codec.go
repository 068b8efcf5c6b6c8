package orm

import (
	"bytes"
	"reflect"

	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
	"google.golang.org/protobuf/proto"
)

// codec 对象类型字段的序列化方式，列类型为 bytes
type codec interface {
	encode(v reflect.Value) ([]byte, error)
	decode(data []byte, t reflect.Type) (reflect.Value, error)
	// equal 按解码后的值比较，编码字节不保证稳定
	equal(a, b reflect.Value) bool
}

var protoMessageType = reflect.TypeOf((*proto.Message)(nil)).Elem()

func codecFor(t reflect.Type) codec {
	if t.Implements(protoMessageType) {
		return protoCodec{}
	}
	switch t.Kind() {
	case reflect.Struct:
		if !t.ConvertibleTo(timeType) {
			return msgpackCodec{}
		}
	case reflect.Map, reflect.Array:
		return msgpackCodec{}
	case reflect.Slice:
		if t.Elem().Kind() != reflect.Uint8 {
			return msgpackCodec{}
		}
	case reflect.Ptr:
		if t.Elem().Kind() == reflect.Struct && !t.Elem().ConvertibleTo(timeType) {
			return msgpackCodec{}
		}
	}
	return nil
}

// msgpackCodec 只有 map[string]string/bool/interface{} 会按键排序，其他 map 的字节顺序随机
type msgpackCodec struct{}

func (msgpackCodec) encode(v reflect.Value) ([]byte, error) {
	if v.Kind() == reflect.Ptr && v.IsNil() {
		return nil, nil
	}
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(v.Interface()); err != nil {
		return nil, errors.Wrap(err, "msgpack encode failed")
	}
	return buf.Bytes(), nil
}

func (msgpackCodec) decode(data []byte, t reflect.Type) (reflect.Value, error) {
	if len(data) == 0 {
		return reflect.Zero(t), nil
	}
	ptr := reflect.New(t)
	if err := msgpack.Unmarshal(data, ptr.Interface()); err != nil {
		return reflect.Value{}, errors.Wrap(err, "msgpack decode failed")
	}
	return ptr.Elem(), nil
}

func (msgpackCodec) equal(a, b reflect.Value) bool {
	return reflect.DeepEqual(a.Interface(), b.Interface())
}

type protoCodec struct{}

func (protoCodec) encode(v reflect.Value) ([]byte, error) {
	if v.IsNil() {
		return nil, nil
	}
	data, err := proto.MarshalOptions{Deterministic: true}.Marshal(v.Interface().(proto.Message))
	if err != nil {
		return nil, errors.Wrap(err, "proto marshal failed")
	}
	return data, nil
}

func (protoCodec) decode(data []byte, t reflect.Type) (reflect.Value, error) {
	if data == nil {
		return reflect.Zero(t), nil
	}
	msg := reflect.New(t.Elem())
	if err := proto.Unmarshal(data, msg.Interface().(proto.Message)); err != nil {
		return reflect.Value{}, errors.Wrap(err, "proto unmarshal failed")
	}
	return msg, nil
}

func (protoCodec) equal(a, b reflect.Value) bool {
	return proto.Equal(a.Interface().(proto.Message), b.Interface().(proto.Message))
}
