// Package registry self-registers a relay instance with Consul so that a
// fleet of stateless relays behind a shared Redis replay window and minio
// object store can be discovered as one logical service.
package registry

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/hashicorp/consul/api"
)

// ConsulRegistry registers and deregisters one relay instance.
type ConsulRegistry struct {
	client     *api.Client
	serviceID  string
	serverPort int
}

// New creates a ConsulRegistry pointed at the agent listening on addr.
func New(addr, serviceID string, serverPort int) (*ConsulRegistry, error) {
	cfg := api.DefaultConfig()
	cfg.Address = addr

	client, err := api.NewClient(cfg)
	if err != nil {
		return nil, err
	}

	return &ConsulRegistry{client: client, serviceID: serviceID, serverPort: serverPort}, nil
}

// Register advertises this relay as "secure-relay" with an HTTP health check.
func (c *ConsulRegistry) Register() error {
	hostname, err := os.Hostname()
	if err != nil {
		log.Printf("registry: failed to get hostname, using localhost: %v", err)
		hostname = "localhost"
	}

	registration := &api.AgentServiceRegistration{
		ID:      c.serviceID,
		Name:    "secure-relay",
		Port:    c.serverPort,
		Address: hostname,
		Tags:    []string{"relay", "websocket"},
		Check: &api.AgentServiceCheck{
			HTTP:                           fmt.Sprintf("http://%s:%d/health", hostname, c.serverPort),
			Interval:                       "10s",
			Timeout:                        "3s",
			DeregisterCriticalServiceAfter: "30s",
		},
	}

	if err := c.client.Agent().ServiceRegister(registration); err != nil {
		return err
	}
	log.Printf("registry: registered with Consul as %s", c.serviceID)
	return nil
}

// Deregister removes this relay's registration on shutdown.
func (c *ConsulRegistry) Deregister() error {
	if err := c.client.Agent().ServiceDeregister(c.serviceID); err != nil {
		return err
	}
	log.Printf("registry: deregistered from Consul: %s", c.serviceID)
	return nil
}

// HealthyPeers returns the IDs of every other healthy relay instance in the
// fleet, for operators inspecting cluster membership.
func (c *ConsulRegistry) HealthyPeers() ([]string, error) {
	services, _, err := c.client.Health().Service("secure-relay", "", true, nil)
	if err != nil {
		return nil, err
	}

	peers := make([]string, 0, len(services))
	for _, svc := range services {
		if svc.Service.ID == c.serviceID {
			continue
		}
		peers = append(peers, svc.Service.ID)
	}
	return peers, nil
}

// Watch calls callback whenever the set of healthy relay instances changes,
// blocking until ctx-equivalent cancellation via stop.
func (c *ConsulRegistry) Watch(stop <-chan struct{}, callback func([]string)) {
	var lastIndex uint64
	for {
		select {
		case <-stop:
			return
		default:
		}

		services, meta, err := c.client.Health().Service("secure-relay", "", true, &api.QueryOptions{
			WaitIndex: lastIndex,
			WaitTime:  1 * time.Minute,
		})
		if err != nil {
			log.Printf("registry: watch error: %v", err)
			time.Sleep(5 * time.Second)
			continue
		}

		if meta.LastIndex != lastIndex {
			lastIndex = meta.LastIndex
			peers := make([]string, 0, len(services))
			for _, svc := range services {
				peers = append(peers, svc.Service.ID)
			}
			callback(peers)
		}
	}
}
