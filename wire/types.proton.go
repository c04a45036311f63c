package wire

import (
	"reflect"

	"github.com/outofforest/proton"
	"github.com/outofforest/proton/helpers"
	"github.com/pkg/errors"
)

const (
	id0 uint64 = iota + 1
)

var _ proton.Marshaller = Marshaller{}

// NewMarshaller creates marshaller.
func NewMarshaller() Marshaller {
	return Marshaller{}
}

// Marshaller marshals and unmarshals messages.
type Marshaller struct {
}

// Messages returns list of the message types supported by marshaller.
func (m Marshaller) Messages() []any {
	return []any {
		Hello{},
	}
}

// ID returns ID of message type.
func (m Marshaller) ID(msg any) (uint64, error) {
	switch msg.(type) {
	case *Hello:
		return id0, nil
	default:
		return 0, errors.Errorf("unknown message type %T", msg)
	}
}

// Size computes the size of marshalled message.
func (m Marshaller) Size(msg any) (uint64, error) {
	switch msg2 := msg.(type) {
	case *Hello:
		return size0(msg2), nil
	default:
		return 0, errors.Errorf("unknown message type %T", msg)
	}
}

// Marshal marshals message.
func (m Marshaller) Marshal(msg any, buf []byte) (retID, retSize uint64, retErr error) {
	defer helpers.RecoverMarshal(&retErr)

	switch msg2 := msg.(type) {
	case *Hello:
		return id0, marshal0(msg2, buf), nil
	default:
		return 0, 0, errors.Errorf("unknown message type %T", msg)
	}
}

// Unmarshal unmarshals message.
func (m Marshaller) Unmarshal(id uint64, buf []byte) (retMsg any, retSize uint64, retErr error) {
	defer helpers.RecoverUnmarshal(&retErr)

	switch id {
	case id0:
		msg := &Hello{}
		return msg, unmarshal0(msg, buf), nil
	default:
		return nil, 0, errors.Errorf("unknown ID %d", id)
	}
}

// MakePatch creates a patch.
func (m Marshaller) MakePatch(msgDst, msgSrc any, buf []byte) (retID, retSize uint64, retErr error) {
	defer helpers.RecoverMakePatch(&retErr)

	switch msg2 := msgDst.(type) {
	case *Hello:
		return id0, makePatch0(msg2, msgSrc.(*Hello), buf), nil
	default:
		return 0, 0, errors.Errorf("unknown message type %T", msgDst)
	}
}

// ApplyPatch applies patch.
func (m Marshaller) ApplyPatch(msg any, buf []byte) (retSize uint64, retErr error) {
	defer helpers.RecoverUnmarshal(&retErr)

	switch msg2 := msg.(type) {
	case *Hello:
		return applyPatch0(msg2, buf), nil
	default:
		return 0, errors.Errorf("unknown message type %T", msg)
	}
}

func size0(m *Hello) uint64 {
	var n uint64 = 4
	{
		// InstanceID

		{
			l := uint64(len(m.InstanceID))
			helpers.UInt64Size(l, &n)
			n += l
		}
	}
	{
		// Namespace

		{
			l := uint64(len(m.Namespace))
			helpers.UInt64Size(l, &n)
			n += l
		}
	}
	{
		// ParticipantID

		{
			l := uint64(len(m.ParticipantID))
			helpers.UInt64Size(l, &n)
			n += l
		}
	}
	{
		// Role

		{
			l := uint64(len(m.Role))
			helpers.UInt64Size(l, &n)
			n += l
		}
	}
	return n
}

func marshal0(m *Hello, b []byte) uint64 {
	var o uint64
	{
		// InstanceID

		{
			l := uint64(len(m.InstanceID))
			helpers.UInt64Marshal(l, b, &o)
			copy(b[o:o+l], m.InstanceID)
			o += l
		}
	}
	{
		// Namespace

		{
			l := uint64(len(m.Namespace))
			helpers.UInt64Marshal(l, b, &o)
			copy(b[o:o+l], m.Namespace)
			o += l
		}
	}
	{
		// ParticipantID

		{
			l := uint64(len(m.ParticipantID))
			helpers.UInt64Marshal(l, b, &o)
			copy(b[o:o+l], m.ParticipantID)
			o += l
		}
	}
	{
		// Role

		{
			l := uint64(len(m.Role))
			helpers.UInt64Marshal(l, b, &o)
			copy(b[o:o+l], m.Role)
			o += l
		}
	}

	return o
}

func unmarshal0(m *Hello, b []byte) uint64 {
	var o uint64
	{
		// InstanceID

		{
			var l uint64
			helpers.UInt64Unmarshal(&l, b, &o)
			if l > 0 {
				m.InstanceID = string(b[o:o+l])
				o += l
			}
		}
	}
	{
		// Namespace

		{
			var l uint64
			helpers.UInt64Unmarshal(&l, b, &o)
			if l > 0 {
				m.Namespace = string(b[o:o+l])
				o += l
			}
		}
	}
	{
		// ParticipantID

		{
			var l uint64
			helpers.UInt64Unmarshal(&l, b, &o)
			if l > 0 {
				m.ParticipantID = string(b[o:o+l])
				o += l
			}
		}
	}
	{
		// Role

		{
			var l uint64
			helpers.UInt64Unmarshal(&l, b, &o)
			if l > 0 {
				m.Role = string(b[o:o+l])
				o += l
			}
		}
	}

	return o
}

func makePatch0(m, mSrc *Hello, b []byte) uint64 {
	var o uint64 = 1
	{
		// InstanceID

		if reflect.DeepEqual(m.InstanceID, mSrc.InstanceID) {
			b[0] &= 0xFE
		} else {
			b[0] |= 0x01
			{
				l := uint64(len(m.InstanceID))
				helpers.UInt64Marshal(l, b, &o)
				copy(b[o:o+l], m.InstanceID)
				o += l
			}
		}
	}
	{
		// Namespace

		if reflect.DeepEqual(m.Namespace, mSrc.Namespace) {
			b[0] &= 0xFD
		} else {
			b[0] |= 0x02
			{
				l := uint64(len(m.Namespace))
				helpers.UInt64Marshal(l, b, &o)
				copy(b[o:o+l], m.Namespace)
				o += l
			}
		}
	}
	{
		// ParticipantID

		if reflect.DeepEqual(m.ParticipantID, mSrc.ParticipantID) {
			b[0] &= 0xFB
		} else {
			b[0] |= 0x04
			{
				l := uint64(len(m.ParticipantID))
				helpers.UInt64Marshal(l, b, &o)
				copy(b[o:o+l], m.ParticipantID)
				o += l
			}
		}
	}
	{
		// Role

		if reflect.DeepEqual(m.Role, mSrc.Role) {
			b[0] &= 0xF7
		} else {
			b[0] |= 0x08
			{
				l := uint64(len(m.Role))
				helpers.UInt64Marshal(l, b, &o)
				copy(b[o:o+l], m.Role)
				o += l
			}
		}
	}

	return o
}

func applyPatch0(m *Hello, b []byte) uint64 {
	var o uint64 = 1
	{
		// InstanceID

		if b[0]&0x01 != 0 {
			{
				var l uint64
				helpers.UInt64Unmarshal(&l, b, &o)
				if l > 0 {
					m.InstanceID = string(b[o:o+l])
					o += l
				}
			}
		}
	}
	{
		// Namespace

		if b[0]&0x02 != 0 {
			{
				var l uint64
				helpers.UInt64Unmarshal(&l, b, &o)
				if l > 0 {
					m.Namespace = string(b[o:o+l])
					o += l
				}
			}
		}
	}
	{
		// ParticipantID

		if b[0]&0x04 != 0 {
			{
				var l uint64
				helpers.UInt64Unmarshal(&l, b, &o)
				if l > 0 {
					m.ParticipantID = string(b[o:o+l])
					o += l
				}
			}
		}
	}
	{
		// Role

		if b[0]&0x08 != 0 {
			{
				var l uint64
				helpers.UInt64Unmarshal(&l, b, &o)
				if l > 0 {
					m.Role = string(b[o:o+l])
					o += l
				}
			}
		}
	}

	return o
}
