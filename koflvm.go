// Copyright (c) 2020 Ozan Hacıbekiroğlu.
// Use of this source code is governed by a MIT License
// that can be found in the LICENSE file.

// Package koflvm is a stack based bytecode virtual machine for kofl chunks.
//
// A Chunk holds instructions, their source lines and a constant pool. A VM
// evaluates a Chunk with its own operand stack, globals table and a fixed
// size heap arena where string objects are allocated:
//
//	vm, err := koflvm.NewVM(koflvm.DefaultOptions)
//	if err != nil {
//		return err
//	}
//	defer vm.Dispose()
//
//	ret, err := vm.Eval(chunk)
//
// Chunks are usually decoded from their binary form with the encoder package.
package koflvm
