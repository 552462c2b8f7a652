package wlink

import (
	"fmt"

	"github.com/wbpf/wlink/internal/wlinkerr"
)

// populateAllFunctions implements spec §4.5.b: enumerate functions
// across objects in object order, keyed bare for globals and
// "object:name" for non-globals. Two objects defining the same global
// name is a fatal multiple-definition error (spec §3 invariant 4).
// Insertion order becomes the initial emission order.
func (l *Linker) populateAllFunctions() error {
	for objIdx, obj := range l.objects {
		for funcIdx, f := range obj.Functions {
			name := qualify(obj.Name, f)
			if f.Global {
				if prevIdx, exists := l.byName[name]; exists {
					prev := l.order[prevIdx]
					return wlinkerr.New(wlinkerr.KindNameCollision, obj.Name,
						fmt.Errorf("function %q defined in both %s and %s", name, l.objectNameAt(prev.objectIndex), obj.Name))
				}
			}
			entry := fn{objectIndex: objIdx, funcIndex: funcIdx, qualName: name}
			l.byName[name] = len(l.order)
			l.order = append(l.order, entry)
		}
	}
	return nil
}
