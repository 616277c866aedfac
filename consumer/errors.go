package consumer

import (
	"fmt"

	"github.com/mistsys/kafkagroup/kerrors"
)

// userErrorf builds a kerrors.UserError the way ErrUnknownTopicOrPartition
// does, for the consumer-specific misuses spec.md §7 calls out: an empty
// argument to Assign, or an assignor name that does not resolve.
func userErrorf(context, msg string, args ...interface{}) error {
	return &kerrors.UserError{Context: context, Err: fmt.Errorf(msg, args...)}
}

// fatalErrorf builds a kerrors.FatalError for conditions this client
// cannot recover from on its own: an unresolved partition under an
// unrecognized AUTO_OFFSET_RESET policy, or a decode failure.
func fatalErrorf(context, msg string, args ...interface{}) error {
	return &kerrors.FatalError{Context: context, Err: fmt.Errorf(msg, args...)}
}

// unknownTopicPartitionErr is returned whenever an operation names a
// (topic, partition) outside the current subscription or assignment.
func unknownTopicPartitionErr(topic string, partition int32) error {
	return kerrors.ErrUnknownTopicOrPartition(topic, partition)
}
