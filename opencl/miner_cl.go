// Copyright (c) 2024 The powsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

//go:build opencl
// +build opencl

package opencl

/*
#cgo LDFLAGS: -lOpenCL
#define CL_TARGET_OPENCL_VERSION 120
#ifdef __APPLE__
#include <OpenCL/cl.h>
#else
#include <CL/cl.h>
#endif
#include <stdlib.h>
*/
import "C"

import (
	"bytes"
	"fmt"
	"unsafe"

	"lukechampine.com/uint128"

	"github.com/powsuite/pow-miner/miner"
	"github.com/powsuite/pow-miner/pow"
)

// clMiner drives batched kernel launches from a single host thread.  The
// host blocks on device completion between launches; all data parallelism
// lives on the device.
type clMiner struct {
	deviceName string
	globalSize uint64
	counter    *miner.HashCounter
	flag       *miner.Flag

	device  C.cl_device_id
	context C.cl_context
	queue   C.cl_command_queue
	program C.cl_program
	kernel  C.cl_kernel

	bufNonce C.cl_mem
	bufHash  C.cl_mem
	bufFound C.cl_mem
}

func clError(op string, rc C.cl_int) error {
	return fmt.Errorf("%s: OpenCL error %d", op, int(rc))
}

// enumerateDevices flattens every device of every platform into a single
// indexable list.
func enumerateDevices() ([]C.cl_device_id, []string, error) {
	var numPlatforms C.cl_uint
	rc := C.clGetPlatformIDs(0, nil, &numPlatforms)
	if rc != C.CL_SUCCESS || numPlatforms == 0 {
		return nil, nil, fmt.Errorf("no OpenCL platforms found: %w",
			ErrUnavailable)
	}
	platforms := make([]C.cl_platform_id, numPlatforms)
	rc = C.clGetPlatformIDs(numPlatforms, &platforms[0], nil)
	if rc != C.CL_SUCCESS {
		return nil, nil, clError("clGetPlatformIDs", rc)
	}

	var ids []C.cl_device_id
	var names []string
	for _, platform := range platforms {
		var numDevices C.cl_uint
		rc = C.clGetDeviceIDs(platform, C.CL_DEVICE_TYPE_ALL, 0, nil,
			&numDevices)
		if rc != C.CL_SUCCESS || numDevices == 0 {
			continue
		}
		devices := make([]C.cl_device_id, numDevices)
		rc = C.clGetDeviceIDs(platform, C.CL_DEVICE_TYPE_ALL, numDevices,
			&devices[0], nil)
		if rc != C.CL_SUCCESS {
			continue
		}
		for _, device := range devices {
			ids = append(ids, device)
			names = append(names, deviceName(device))
		}
	}
	if len(ids) == 0 {
		return nil, nil, fmt.Errorf("no OpenCL devices found: %w",
			ErrUnavailable)
	}
	return ids, names, nil
}

func deviceName(device C.cl_device_id) string {
	var buf [256]C.char
	rc := C.clGetDeviceInfo(device, C.CL_DEVICE_NAME, C.size_t(len(buf)),
		unsafe.Pointer(&buf[0]), nil)
	if rc != C.CL_SUCCESS {
		return "unknown device"
	}
	return C.GoString(&buf[0])
}

// Devices returns the names of all OpenCL devices across all platforms, in
// selection-index order.
func Devices() ([]string, error) {
	_, names, err := enumerateDevices()
	return names, err
}

func newMiner(cfg *Config) (miner.Backend, error) {
	ids, names, err := enumerateDevices()
	if err != nil {
		return nil, err
	}
	if cfg.Device < 0 || cfg.Device >= len(ids) {
		return nil, fmt.Errorf("device index %d out of range (%d devices "+
			"present)", cfg.Device, len(ids))
	}

	globalSize := cfg.GlobalWorkSize
	if globalSize == 0 {
		globalSize = DefaultGlobalWorkSize
	}
	counter := cfg.Counter
	if counter == nil {
		counter = &miner.HashCounter{}
	}
	flag := cfg.Flag
	if flag == nil {
		flag = miner.NewFlag()
	}

	m := &clMiner{
		deviceName: names[cfg.Device],
		globalSize: globalSize,
		counter:    counter,
		flag:       flag,
		device:     ids[cfg.Device],
	}

	var rc C.cl_int
	m.context = C.clCreateContext(nil, 1, &m.device, nil, nil, &rc)
	if rc != C.CL_SUCCESS {
		return nil, clError("clCreateContext", rc)
	}
	m.queue = C.clCreateCommandQueue(m.context, m.device, 0, &rc)
	if rc != C.CL_SUCCESS {
		m.release()
		return nil, clError("clCreateCommandQueue", rc)
	}

	src := C.CString(kernelSource)
	defer C.free(unsafe.Pointer(src))
	m.program = C.clCreateProgramWithSource(m.context, 1, &src, nil, &rc)
	if rc != C.CL_SUCCESS {
		m.release()
		return nil, clError("clCreateProgramWithSource", rc)
	}
	rc = C.clBuildProgram(m.program, 1, &m.device, nil, nil, nil)
	if rc != C.CL_SUCCESS {
		buildLog := m.buildLog()
		m.release()
		return nil, fmt.Errorf("kernel build failed (OpenCL error %d): %s",
			int(rc), buildLog)
	}

	kernelName := C.CString("search")
	defer C.free(unsafe.Pointer(kernelName))
	m.kernel = C.clCreateKernel(m.program, kernelName, &rc)
	if rc != C.CL_SUCCESS {
		m.release()
		return nil, clError("clCreateKernel", rc)
	}

	m.bufNonce = C.clCreateBuffer(m.context,
		C.cl_mem_flags(C.CL_MEM_READ_WRITE), C.size_t(16), nil, &rc)
	if rc != C.CL_SUCCESS {
		m.release()
		return nil, clError("clCreateBuffer(nonce)", rc)
	}
	m.bufHash = C.clCreateBuffer(m.context,
		C.cl_mem_flags(C.CL_MEM_READ_WRITE), C.size_t(pow.HashSize), nil, &rc)
	if rc != C.CL_SUCCESS {
		m.release()
		return nil, clError("clCreateBuffer(hash)", rc)
	}
	m.bufFound = C.clCreateBuffer(m.context,
		C.cl_mem_flags(C.CL_MEM_READ_WRITE), C.size_t(4), nil, &rc)
	if rc != C.CL_SUCCESS {
		m.release()
		return nil, clError("clCreateBuffer(found)", rc)
	}

	log.Infof("OpenCL device %d: %s (%d lanes per launch)", cfg.Device,
		m.deviceName, m.globalSize)
	return m, nil
}

func (m *clMiner) buildLog() string {
	var size C.size_t
	rc := C.clGetProgramBuildInfo(m.program, m.device,
		C.CL_PROGRAM_BUILD_LOG, 0, nil, &size)
	if rc != C.CL_SUCCESS || size == 0 {
		return "(no build log)"
	}
	buf := make([]byte, int(size))
	rc = C.clGetProgramBuildInfo(m.program, m.device,
		C.CL_PROGRAM_BUILD_LOG, size, unsafe.Pointer(&buf[0]), nil)
	if rc != C.CL_SUCCESS {
		return "(no build log)"
	}
	return string(bytes.TrimRight(buf, "\x00"))
}

// release frees whatever device resources have been created so far.  Zero
// handles are ignored by the OpenCL release calls' nil checks below.
func (m *clMiner) release() {
	if m.bufFound != nil {
		C.clReleaseMemObject(m.bufFound)
	}
	if m.bufHash != nil {
		C.clReleaseMemObject(m.bufHash)
	}
	if m.bufNonce != nil {
		C.clReleaseMemObject(m.bufNonce)
	}
	if m.kernel != nil {
		C.clReleaseKernel(m.kernel)
	}
	if m.program != nil {
		C.clReleaseProgram(m.program)
	}
	if m.queue != nil {
		C.clReleaseCommandQueue(m.queue)
	}
	if m.context != nil {
		C.clReleaseContext(m.context)
	}
}

// Name returns a diagnostic description of the backend.
func (m *clMiner) Name() string {
	return fmt.Sprintf("OpenCL (%s)", m.deviceName)
}

func (m *clMiner) setMemArg(index C.cl_uint, mem *C.cl_mem) error {
	rc := C.clSetKernelArg(m.kernel, index, C.size_t(unsafe.Sizeof(*mem)),
		unsafe.Pointer(mem))
	if rc != C.CL_SUCCESS {
		return clError(fmt.Sprintf("clSetKernelArg(%d)", index), rc)
	}
	return nil
}

func (m *clMiner) setUlongArg(index C.cl_uint, v C.cl_ulong) error {
	rc := C.clSetKernelArg(m.kernel, index, C.size_t(unsafe.Sizeof(v)),
		unsafe.Pointer(&v))
	if rc != C.CL_SUCCESS {
		return clError(fmt.Sprintf("clSetKernelArg(%d)", index), rc)
	}
	return nil
}

// Mine issues batched kernel launches over [0, job.MaxNonce).  Each launch
// covers globalSize contiguous candidates; the host blocks until the device
// finishes, adds the launch's candidate count to the hash counter, inspects
// the found flag, and either returns the verified result or advances the
// launch start.  The cancellation flag is polled between launches only.
func (m *clMiner) Mine(job *miner.Job) (*miner.Solution, error) {
	if err := job.Check(); err != nil {
		return nil, err
	}

	var rc C.cl_int

	var targetBytes [16]byte
	job.Target.PutBytes(targetBytes[:])

	bufChallenge := C.clCreateBuffer(m.context,
		C.cl_mem_flags(C.CL_MEM_READ_ONLY|C.CL_MEM_COPY_HOST_PTR),
		C.size_t(pow.ChallengeSize), unsafe.Pointer(&job.Challenge[0]), &rc)
	if rc != C.CL_SUCCESS {
		return nil, clError("clCreateBuffer(challenge)", rc)
	}
	defer C.clReleaseMemObject(bufChallenge)

	bufMinerID := C.clCreateBuffer(m.context,
		C.cl_mem_flags(C.CL_MEM_READ_ONLY|C.CL_MEM_COPY_HOST_PTR),
		C.size_t(pow.MinerIDSize), unsafe.Pointer(&job.MinerID[0]), &rc)
	if rc != C.CL_SUCCESS {
		return nil, clError("clCreateBuffer(minerID)", rc)
	}
	defer C.clReleaseMemObject(bufMinerID)

	bufTarget := C.clCreateBuffer(m.context,
		C.cl_mem_flags(C.CL_MEM_READ_ONLY|C.CL_MEM_COPY_HOST_PTR),
		C.size_t(len(targetBytes)), unsafe.Pointer(&targetBytes[0]), &rc)
	if rc != C.CL_SUCCESS {
		return nil, clError("clCreateBuffer(target)", rc)
	}
	defer C.clReleaseMemObject(bufTarget)

	if err := m.setMemArg(0, &bufChallenge); err != nil {
		return nil, err
	}
	if err := m.setMemArg(1, &bufMinerID); err != nil {
		return nil, err
	}
	if err := m.setMemArg(2, &bufTarget); err != nil {
		return nil, err
	}
	if err := m.setUlongArg(3, C.cl_ulong(job.BlockNumber)); err != nil {
		return nil, err
	}
	if err := m.setMemArg(7, &m.bufNonce); err != nil {
		return nil, err
	}
	if err := m.setMemArg(8, &m.bufHash); err != nil {
		return nil, err
	}
	if err := m.setMemArg(9, &m.bufFound); err != nil {
		return nil, err
	}

	start := uint128.Zero
	for start.Cmp(job.MaxNonce) < 0 && m.flag.Running() {
		remaining := job.MaxNonce.Sub(start)
		count := m.globalSize
		if remaining.Cmp(uint128.From64(count)) < 0 {
			count = remaining.Lo
		}

		sol, err := m.launch(job, start, count)
		if err != nil {
			return nil, err
		}
		m.counter.Add(count)
		if sol != nil {
			return sol, nil
		}

		start = start.AddWrap64(count)
	}
	return nil, nil
}

// launch runs one kernel pass over [start, start+count) and returns the
// verified solution, if the device found one.
func (m *clMiner) launch(job *miner.Job, start uint128.Uint128,
	count uint64) (*miner.Solution, error) {

	var zero C.cl_uint
	rc := C.clEnqueueWriteBuffer(m.queue, m.bufFound, C.CL_TRUE, 0,
		C.size_t(4), unsafe.Pointer(&zero), 0, nil, nil)
	if rc != C.CL_SUCCESS {
		return nil, clError("clEnqueueWriteBuffer(found)", rc)
	}

	if err := m.setUlongArg(4, C.cl_ulong(start.Lo)); err != nil {
		return nil, err
	}
	if err := m.setUlongArg(5, C.cl_ulong(start.Hi)); err != nil {
		return nil, err
	}
	if err := m.setUlongArg(6, C.cl_ulong(count)); err != nil {
		return nil, err
	}

	globalSize := C.size_t(m.globalSize)
	rc = C.clEnqueueNDRangeKernel(m.queue, m.kernel, 1, nil, &globalSize,
		nil, 0, nil, nil)
	if rc != C.CL_SUCCESS {
		return nil, clError("clEnqueueNDRangeKernel", rc)
	}
	rc = C.clFinish(m.queue)
	if rc != C.CL_SUCCESS {
		return nil, clError("clFinish", rc)
	}

	var found C.cl_uint
	rc = C.clEnqueueReadBuffer(m.queue, m.bufFound, C.CL_TRUE, 0,
		C.size_t(4), unsafe.Pointer(&found), 0, nil, nil)
	if rc != C.CL_SUCCESS {
		return nil, clError("clEnqueueReadBuffer(found)", rc)
	}
	if found == 0 {
		return nil, nil
	}

	var nonceWords [2]C.cl_ulong
	rc = C.clEnqueueReadBuffer(m.queue, m.bufNonce, C.CL_TRUE, 0,
		C.size_t(16), unsafe.Pointer(&nonceWords[0]), 0, nil, nil)
	if rc != C.CL_SUCCESS {
		return nil, clError("clEnqueueReadBuffer(nonce)", rc)
	}
	var deviceHash [pow.HashSize]byte
	rc = C.clEnqueueReadBuffer(m.queue, m.bufHash, C.CL_TRUE, 0,
		C.size_t(pow.HashSize), unsafe.Pointer(&deviceHash[0]), 0, nil, nil)
	if rc != C.CL_SUCCESS {
		return nil, clError("clEnqueueReadBuffer(hash)", rc)
	}

	nonce := uint128.New(uint64(nonceWords[0]), uint64(nonceWords[1]))

	// The device kernel is an independent implementation of the proof
	// function; a digest that the host cannot reproduce means the two
	// disagree on the proof itself.
	hostHash := pow.ComputeHash(&job.Challenge, &job.MinerID, nonce,
		job.BlockNumber)
	if hostHash != deviceHash {
		return nil, fmt.Errorf("device digest for nonce %s does not match "+
			"host digest", nonce)
	}
	if !pow.IsValidHash(&hostHash, job.Target) {
		return nil, fmt.Errorf("device reported invalid nonce %s", nonce)
	}

	log.Debugf("Device found nonce %s", nonce)
	return &miner.Solution{Nonce: nonce, Hash: hostHash}, nil
}
