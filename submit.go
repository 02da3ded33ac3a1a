package axdma

// Submit queues a 1D copy of size bytes and returns once it is queued. cb, if
// not nil, runs on a deferred worker with the result.
func (e *Engine) Submit(src, dst uint64, size uint32, cb Callback) error {
	return e.submitAsync(&Request{Mode: Mode1D, Blocks: []Block{{Src: src, Dst: dst, Size: size}}}, cb)
}

// SubmitSync copies size bytes and waits for the engine to finish, at most
// for the sync timeout. ErrTimeout does not stop the copy.
func (e *Engine) SubmitSync(src, dst uint64, size uint32) error {
	_, err := e.submitSync(&Request{Mode: Mode1D, Blocks: []Block{{Src: src, Dst: dst, Size: size}}})
	return err
}

// SubmitCrop queues a 2D, 3D or 4D transfer of blocks.
func (e *Engine) SubmitCrop(blocks []DimBlock, mode Mode, endian Endian, cb Callback) error {
	if !mode.Dimensional() {
		return invalid("crop needs a 2d, 3d or 4d mode, got %s", mode)
	}
	return e.submitAsync(&Request{Mode: mode, Endian: endian, DimBlocks: blocks}, cb)
}

// SubmitCropSync is SubmitCrop that waits like SubmitSync.
func (e *Engine) SubmitCropSync(blocks []DimBlock, mode Mode, endian Endian) error {
	if !mode.Dimensional() {
		return invalid("crop needs a 2d, 3d or 4d mode, got %s", mode)
	}
	_, err := e.submitSync(&Request{Mode: mode, Endian: endian, DimBlocks: blocks})
	return err
}

// SubmitRequest runs any request synchronously and returns its result, the
// checksum included.
func (e *Engine) SubmitRequest(req Request) (Result, error) {
	return e.submitSync(&req)
}

func (e *Engine) submitAsync(req *Request, cb Callback) error {
	t, err := e.configure(req, true, consumerCallback, cb, nil)
	if err != nil {
		return err
	}

	if err := e.start(t, false); err != nil {
		e.reclaim(t)
		return err
	}
	return nil
}

func (e *Engine) submitSync(req *Request) (Result, error) {
	t, err := e.configure(req, true, consumerSync, nil, nil)
	if err != nil {
		return Result{}, err
	}

	if err := e.start(t, false); err != nil {
		e.reclaim(t)
		return Result{}, err
	}

	return e.waitSync(t)
}
