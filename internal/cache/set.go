package cache

import "workshop-sync/internal/models"

// Set bundles one store per entity type. It is the single shared mutable
// resource of the session; every component mutates it through the store
// contract only, never by swapping collections.
type Set struct {
	Requests        *Store[models.Request]
	Clients         *Store[models.Client]
	Cars            *Store[models.Car]
	Makes           *Store[models.CarMake]
	Models          *Store[models.CarModel]
	Brokers         *Store[models.Broker]
	Employees       *Store[models.Employee]
	InspectionTypes *Store[models.InspectionType]
	Expenses        *Store[models.Expense]
	Revenues        *Store[models.Revenue]
	Reservations    *Store[models.Reservation]
}

// NewSet creates empty stores for every entity type.
func NewSet() *Set {
	return &Set{
		Requests:        New[models.Request](models.TableRequests),
		Clients:         New[models.Client](models.TableClients),
		Cars:            New[models.Car](models.TableCars),
		Makes:           New[models.CarMake](models.TableCarMakes),
		Models:          New[models.CarModel](models.TableCarModels),
		Brokers:         New[models.Broker](models.TableBrokers),
		Employees:       New[models.Employee](models.TableEmployees),
		InspectionTypes: New[models.InspectionType](models.TableInspectionTypes),
		Expenses:        New[models.Expense](models.TableExpenses),
		Revenues:        New[models.Revenue](models.TableRevenues),
		Reservations:    New[models.Reservation](models.TableReservations),
	}
}
