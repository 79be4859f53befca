// Package router decodes gateway frames and routes data records to events.
//
// Frame kinds:
//   - Heartbeat: the PINGPONG literal, plain or inside a JSON header
//   - Data: '0|TR_ID|count|f1^f2^...' ('1' prefix marks an encrypted body)
//   - Control: JSON acknowledgements carrying header.tr_id and body.rt_cd
//
// The Dispatcher turns data frames on the trigger and trade channels into
// model events. Frames on other channels are counted and passed over.
//
// GrowableBuffer is the unbounded FIFO between the receive loop and the
// event consumer: the loop never blocks on a slow consumer.
package router
