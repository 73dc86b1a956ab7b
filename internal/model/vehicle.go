package model

// VehicleClass is one of the counted vehicle categories.
type VehicleClass string

const (
	Car        VehicleClass = "car"
	Motorcycle VehicleClass = "motorcycle"
	Bus        VehicleClass = "bus"
	Truck      VehicleClass = "truck"
)

// VehicleClasses lists every counted class in reporting order.
var VehicleClasses = []VehicleClass{Car, Motorcycle, Bus, Truck}

// IsVehicle reports whether c is one of the counted classes.
func (c VehicleClass) IsVehicle() bool {
	switch c {
	case Car, Motorcycle, Bus, Truck:
		return true
	}
	return false
}

// Counts holds per-class vehicle totals.
type Counts struct {
	Cars        int `json:"cars"`
	Motorcycles int `json:"motorcycles"`
	Buses       int `json:"buses"`
	Trucks      int `json:"trucks"`
}

// Add increments the counter for class by n. Unknown classes are ignored.
func (c *Counts) Add(class VehicleClass, n int) {
	switch class {
	case Car:
		c.Cars += n
	case Motorcycle:
		c.Motorcycles += n
	case Bus:
		c.Buses += n
	case Truck:
		c.Trucks += n
	}
}

// Get returns the counter for class.
func (c Counts) Get(class VehicleClass) int {
	switch class {
	case Car:
		return c.Cars
	case Motorcycle:
		return c.Motorcycles
	case Bus:
		return c.Buses
	case Truck:
		return c.Trucks
	}
	return 0
}

// Total sums all classes.
func (c Counts) Total() int {
	return c.Cars + c.Motorcycles + c.Buses + c.Trucks
}

// Merge adds other into c.
func (c *Counts) Merge(other Counts) {
	c.Cars += other.Cars
	c.Motorcycles += other.Motorcycles
	c.Buses += other.Buses
	c.Trucks += other.Trucks
}
