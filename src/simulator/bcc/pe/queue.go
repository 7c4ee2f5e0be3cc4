package pe

// jobQueue is the in-order FIFO in front of a station.
type jobQueue struct {
	items []*job
}

func (this *jobQueue) enqueue(j *job) {
	this.items = append(this.items, j)
}

func (this *jobQueue) peek() (*job, bool) {
	if len(this.items) == 0 {
		return nil, false
	}
	return this.items[0], true
}

func (this *jobQueue) dequeue() (*job, bool) {
	if len(this.items) == 0 {
		return nil, false
	}

	j := this.items[0]
	this.items[0] = nil
	this.items = this.items[1:]

	return j, true
}

// remove drops the job for seq wherever it sits in the queue.
func (this *jobQueue) remove(seq uint64) (*job, bool) {
	for i, j := range this.items {
		if j.cmd.Seq == seq {
			this.items = append(this.items[:i], this.items[i+1:]...)
			return j, true
		}
	}
	return nil, false
}

func (this *jobQueue) len() int {
	return len(this.items)
}

func (this *jobQueue) isEmpty() bool {
	return len(this.items) == 0
}
