package tx

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sync"

	"github.com/tolelom/ledgerd/domain"
)

// instructionRegistry maps wire kind names to the reflect.Type of their
// concrete Go implementation, so decodeInstruction can allocate the right
// type and encodeInstruction can recover the kind name for any registered
// instruction value. Populated by instruction packages (see isi.init)
// rather than by tx itself, so tx stays ignorant of any specific
// instruction set — mirroring how the teacher's core package never knows
// about the vm/modules payload shapes it ships as opaque JSON.
var (
	registryMu sync.RWMutex
	kindToType = make(map[string]reflect.Type)
	typeToKind = make(map[reflect.Type]string)
)

// Register associates a wire kind name with the concrete (non-pointer)
// instruction type sample represents. Intended to be called from init() in
// packages that define domain.Instruction implementations.
func Register(kind string, sample domain.Instruction) {
	t := reflect.TypeOf(sample)
	registryMu.Lock()
	defer registryMu.Unlock()
	kindToType[kind] = t
	typeToKind[t] = kind
}

func encodeInstruction(instr domain.Instruction) (instructionEnvelope, error) {
	t := reflect.TypeOf(instr)
	registryMu.RLock()
	kind, ok := typeToKind[t]
	registryMu.RUnlock()
	if !ok {
		return instructionEnvelope{}, fmt.Errorf("tx: encode instruction: type %T not registered", instr)
	}
	body, err := json.Marshal(instr)
	if err != nil {
		return instructionEnvelope{}, fmt.Errorf("tx: encode instruction %s: %w", kind, err)
	}
	return instructionEnvelope{Kind: kind, Body: body}, nil
}

func decodeInstruction(env instructionEnvelope) (domain.Instruction, error) {
	registryMu.RLock()
	t, ok := kindToType[env.Kind]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("tx: decode instruction: unknown kind %q", env.Kind)
	}
	ptr := reflect.New(t)
	if err := json.Unmarshal(env.Body, ptr.Interface()); err != nil {
		return nil, fmt.Errorf("tx: decode instruction %s: %w", env.Kind, err)
	}
	return ptr.Elem().Interface().(domain.Instruction), nil
}
