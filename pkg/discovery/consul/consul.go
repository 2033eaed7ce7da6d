package consul

import (
	"errors"
	"strconv"

	"github.com/lamassuiot/certify/pkg/discovery"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	consulsd "github.com/go-kit/kit/sd/consul"
	"github.com/google/uuid"
	"github.com/hashicorp/consul/api"
)

const serviceName = "certify"

var ErrNotRegistered = errors.New("service is not registered")

type ServiceDiscovery struct {
	client    consulsd.Client
	logger    log.Logger
	registrar *consulsd.Registrar
}

func NewServiceDiscovery(consulProtocol string, consulHost string, consulPort string, CA string, logger log.Logger) (discovery.Service, error) {
	consulConfig := api.DefaultConfig()
	consulConfig.Address = consulProtocol + "://" + consulHost + ":" + consulPort
	tlsConf := &api.TLSConfig{CAFile: CA}
	consulConfig.TLSConfig = *tlsConf
	consulClient, err := api.NewClient(consulConfig)
	if err != nil {
		level.Error(logger).Log("err", err, "msg", "Could not start Consul API Client")
		return nil, err
	}
	client := consulsd.NewClient(consulClient)
	return &ServiceDiscovery{client: client, logger: logger}, nil
}

// Register advertises the service with a health check against /health.
func (sd *ServiceDiscovery) Register(advProtocol string, advHost string, advPort string) error {
	port, err := strconv.Atoi(advPort)
	if err != nil {
		return err
	}
	check := api.AgentServiceCheck{
		HTTP:          advProtocol + "://" + advHost + ":" + advPort + "/health",
		Interval:      "10s",
		Timeout:       "1s",
		TLSSkipVerify: true,
		Notes:         "Certificate store and ledger health",
	}
	asr := api.AgentServiceRegistration{
		ID:      serviceName + "-" + uuid.New().String(),
		Name:    serviceName,
		Address: advHost,
		Port:    port,
		Tags:    []string{"certify", advProtocol},
		Check:   &check,
	}
	sd.registrar = consulsd.NewRegistrar(sd.client, &asr, sd.logger)
	sd.registrar.Register()
	return nil
}

func (sd *ServiceDiscovery) Deregister() error {
	if sd.registrar == nil {
		return ErrNotRegistered
	}
	sd.registrar.Deregister()
	return nil
}
