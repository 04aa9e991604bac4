// Package coordpb translates between lgsync's wire types and the protobuf
// messages of the labgrid coordinator's gRPC service (package labgrid in
// labgrid-coordinator.proto).
//
// Messages are encoded field by field with protowire, so no generated code
// is needed. Field numbers follow the coordinator schema:
//
//	ClientInMessage  { oneof { Sync sync = 1; StartupDone startup = 2; Subscribe subscribe = 3 } }
//	ClientOutMessage { optional Sync sync = 1; repeated UpdateResponse updates = 2 }
//	UpdateResponse   { oneof { Resource resource = 1; Resource.Path del_resource = 2;
//	                           Place place = 3; string del_place = 4 } }
//
// A few lgsync fields have no protobuf counterpart and are dropped on the
// way out: ResourceMatch.Params and all but the first allocated place of a
// reservation filter. A removed resource is announced without its class;
// StreamDecoder remembers the class of every resource it has seen so that
// removals can be mapped back to a full Path.
package coordpb
