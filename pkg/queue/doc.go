/*
Package queue implements the peak-time admission queue.

Orders are still accepted when in-flight work passes the threshold —
the order row, saga row and OrderCreated event commit as usual — but
the payment command is withheld and the order id parks in a redis
sorted set scored by submission time. The caller gets its rank, the
queue size and an estimated wait (rank × dequeue interval) instead of
an immediate 201.

A Dequeuer pops the minimum-score entry every interval under the
scheduled leader lock and calls the release barrier
(order.Service.ProcessQueuedOrder), which emits the withheld payment
command. A failed release re-enqueues the order at the tail.

The queue stays active while it is non-empty even after load drops, so
a late arrival cannot overtake orders already waiting. In-flight
accounting is a redis counter: incremented when an order is accepted,
decremented when its saga reaches a terminal state.
*/
package queue
