package marketdata

import (
	"context"
	"fmt"
	"net"

	"golang.org/x/net/ipv4"

	"talos/infra/kafka"
)

// Transport is the lossy broadcast channel for feed records. Loss is not
// an error of this layer; subscribers recover through sequence numbers
// and periodic snapshots.
type Transport interface {
	Send(record []byte) error
	Close() error
}

// UDPTransport publishes records to a multicast group.
type UDPTransport struct {
	pc    net.PacketConn
	conn  *ipv4.PacketConn
	group *net.UDPAddr
}

// NewUDPTransport joins nothing: the publisher only writes. iface may be
// empty to use the default multicast interface.
func NewUDPTransport(group, iface string) (*UDPTransport, error) {
	addr, err := net.ResolveUDPAddr("udp4", group)
	if err != nil {
		return nil, fmt.Errorf("marketdata: resolve group %s: %w", group, err)
	}

	pc, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		return nil, fmt.Errorf("marketdata: open udp socket: %w", err)
	}

	conn := ipv4.NewPacketConn(pc)
	if err := conn.SetMulticastTTL(16); err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("marketdata: set multicast ttl: %w", err)
	}
	if iface != "" {
		ifi, err := net.InterfaceByName(iface)
		if err != nil {
			_ = pc.Close()
			return nil, fmt.Errorf("marketdata: interface %s: %w", iface, err)
		}
		if err := conn.SetMulticastInterface(ifi); err != nil {
			_ = pc.Close()
			return nil, fmt.Errorf("marketdata: set multicast interface: %w", err)
		}
	}

	return &UDPTransport{pc: pc, conn: conn, group: addr}, nil
}

func (t *UDPTransport) Send(record []byte) error {
	_, err := t.conn.WriteTo(record, nil, t.group)
	return err
}

func (t *UDPTransport) Close() error {
	return t.pc.Close()
}

// KafkaTransport publishes feed records to a Kafka topic for consumers
// that prefer a brokered feed over raw multicast.
type KafkaTransport struct {
	producer *kafka.Producer
}

func NewKafkaTransport(brokers []string, topic string) *KafkaTransport {
	return &KafkaTransport{producer: kafka.NewProducer(brokers, topic)}
}

func (t *KafkaTransport) Send(record []byte) error {
	// Key on the 8-byte sequence prefix so partition ordering follows
	// the feed ordering.
	return t.producer.Send(context.Background(), record[0:8], record)
}

func (t *KafkaTransport) Close() error {
	return t.producer.Close()
}
